package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, posting *Posting) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Posting, error)
	ListByBet(ctx context.Context, db *gorm.DB, betID snowflake.ID) ([]Posting, error)
	MarkPosted(ctx context.Context, db *gorm.DB, id, ledgerEntryID snowflake.ID) error
	MarkReversed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
