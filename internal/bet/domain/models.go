package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	"gorm.io/datatypes"
)

// BetStatus is the settlement state machine: pending -> settled | voided.
// Both settled and voided are terminal; terminal records are immutable.
type BetStatus string

const (
	BetStatusPending BetStatus = "pending"
	BetStatusSettled BetStatus = "settled"
	BetStatusVoided  BetStatus = "voided"
)

func (s BetStatus) Terminal() bool {
	return s == BetStatusSettled || s == BetStatusVoided
}

// BetRecord is one wagering event. The rolling basis is the stake; the losing
// basis is the bettor's net loss, max(0, stake - payout).
type BetRecord struct {
	ID           snowflake.ID            `gorm:"primaryKey"`
	Reference    string                  `gorm:"type:text;not null;uniqueIndex:ux_bet_records_reference"`
	AccountID    snowflake.ID            `gorm:"not null;index"`
	GameCategory ratedomain.GameCategory `gorm:"type:text;not null;index"`
	Provider     string                  `gorm:"type:text;not null"`
	Stake        decimal.Decimal         `gorm:"type:decimal(18,2);not null"`
	Payout       decimal.Decimal         `gorm:"type:decimal(18,2);not null;default:0"`
	Profit       decimal.Decimal         `gorm:"type:decimal(18,2);not null;default:0"`
	Status       BetStatus               `gorm:"type:text;not null;default:'pending';index"`
	Metadata     datatypes.JSON          `gorm:"type:jsonb"`
	PlacedAt     time.Time               `gorm:"not null"`
	SettledAt    *time.Time              ``
	CreatedAt    time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BetRecord) TableName() string { return "bet_records" }

// RollingBasis is the commission basis for rolling-type agents.
func (b *BetRecord) RollingBasis() decimal.Decimal { return b.Stake }

// LosingBasis is the commission basis for losing-type agents.
func (b *BetRecord) LosingBasis() decimal.Decimal {
	loss := b.Stake.Sub(b.Payout)
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}

var (
	ErrNotFound       = errors.New("bet_not_found")
	ErrInvalidStake   = errors.New("invalid_bet_stake")
	ErrInvalidPayout  = errors.New("invalid_bet_payout")
	ErrInvalidAccount = errors.New("invalid_bet_account")
	ErrAlreadySettled = errors.New("bet_already_settled")
	ErrAlreadyVoided  = errors.New("bet_already_voided")
)
