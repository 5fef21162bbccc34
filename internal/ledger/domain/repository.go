package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindByReversalOf(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (*Entry, error)
	FindByReference(ctx context.Context, db *gorm.DB, referenceType ReferenceType, referenceID snowflake.ID, entryType EntryType) (*Entry, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int, afterID snowflake.ID) ([]Entry, error)
}
