package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stakeroom/internal/bet/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, bet *domain.BetRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bet_records (
			id, reference, account_id, game_category, provider, stake, payout,
			profit, status, metadata, placed_at, settled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bet.ID,
		bet.Reference,
		bet.AccountID,
		bet.GameCategory,
		bet.Provider,
		bet.Stake,
		bet.Payout,
		bet.Profit,
		bet.Status,
		bet.Metadata,
		bet.PlacedAt,
		bet.SettledAt,
		bet.CreatedAt,
		bet.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BetRecord, error) {
	var bet domain.BetRecord
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&bet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &bet, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.BetRecord, error) {
	var bet domain.BetRecord
	err := db.WithContext(ctx).
		Where("reference = ?", reference).
		Take(&bet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &bet, nil
}

func (r *repo) MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, payout, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bet_records
		 SET status = ?, payout = ?, profit = ?, settled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.BetStatusSettled,
		payout,
		profit,
		settledAt,
		settledAt,
		id,
		domain.BetStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, settledAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bet_records
		 SET status = ?, settled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.BetStatusVoided,
		settledAt,
		settledAt,
		id,
		domain.BetStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
