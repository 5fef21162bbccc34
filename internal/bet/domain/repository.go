package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, bet *BetRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BetRecord, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*BetRecord, error)

	// MarkSettled flips pending -> settled and reports whether this caller
	// won the transition.
	MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, payout, profit decimal.Decimal, settledAt time.Time) (bool, error)
	// MarkVoided flips pending -> voided and reports whether this caller won
	// the transition.
	MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, settledAt time.Time) (bool, error)
}
