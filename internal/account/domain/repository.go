package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Account, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status AccountStatus) error
}
