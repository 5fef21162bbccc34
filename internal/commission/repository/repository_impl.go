package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stakeroom/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, posting *domain.Posting) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO commission_postings (
			id, agent_id, bet_id, ledger_entry_id, game_category, commission_type,
			basis, rate, amount, depth, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		posting.ID,
		posting.AgentID,
		posting.BetID,
		posting.LedgerEntryID,
		posting.GameCategory,
		posting.CommissionType,
		posting.Basis,
		posting.Rate,
		posting.Amount,
		posting.Depth,
		posting.Status,
		posting.CreatedAt,
		posting.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Posting, error) {
	var posting domain.Posting
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&posting).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &posting, nil
}

func (r *repo) ListByBet(ctx context.Context, db *gorm.DB, betID snowflake.ID) ([]domain.Posting, error) {
	var postings []domain.Posting
	err := db.WithContext(ctx).
		Where("bet_id = ?", betID).
		Order("depth asc").
		Find(&postings).Error
	if err != nil {
		return nil, err
	}
	return postings, nil
}

func (r *repo) MarkPosted(ctx context.Context, db *gorm.DB, id, ledgerEntryID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE commission_postings
		 SET status = ?, ledger_entry_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.PostingStatusPosted,
		ledgerEntryID,
		id,
		domain.PostingStatusPending,
	).Error
}

func (r *repo) MarkReversed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE commission_postings
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.PostingStatusReversed,
		id,
		domain.PostingStatusPosted,
	).Error
}
