package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, accountID snowflake.ID, category GameCategory, commissionType accountdomain.CommissionType) (*CommissionRate, error)
	Upsert(ctx context.Context, db *gorm.DB, rate *CommissionRate) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]CommissionRate, error)
}
