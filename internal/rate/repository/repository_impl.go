package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/internal/rate/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, accountID snowflake.ID, category domain.GameCategory, commissionType accountdomain.CommissionType) (*domain.CommissionRate, error) {
	var rate domain.CommissionRate
	err := db.WithContext(ctx).
		Where("account_id = ? AND game_category = ? AND commission_type = ?", accountID, category, commissionType).
		Take(&rate).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

// Upsert lets the dialect render the conflict clause so the same call works
// on postgres, mysql, and sqlite.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rate *domain.CommissionRate) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "account_id"},
				{Name: "game_category"},
				{Name: "commission_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
		}).
		Create(rate).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.CommissionRate, error) {
	var rates []domain.CommissionRate
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("game_category asc, commission_type asc").
		Find(&rates).Error
	if err != nil {
		return nil, err
	}
	return rates, nil
}
