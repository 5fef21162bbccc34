package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
)

// GameCategory enumerates the supported wagering verticals.
type GameCategory string

const (
	CategoryCasino        GameCategory = "casino"
	CategorySlot          GameCategory = "slot"
	CategorySports        GameCategory = "sports"
	CategoryEsports       GameCategory = "esports"
	CategoryHoldem        GameCategory = "holdem"
	CategoryMiniGame      GameCategory = "mini_game"
	CategoryVirtualSoccer GameCategory = "virtual_soccer"
)

var supportedCategories = map[GameCategory]struct{}{
	CategoryCasino:        {},
	CategorySlot:          {},
	CategorySports:        {},
	CategoryEsports:       {},
	CategoryHoldem:        {},
	CategoryMiniGame:      {},
	CategoryVirtualSoccer: {},
}

func (c GameCategory) Valid() bool {
	_, ok := supportedCategories[c]
	return ok
}

// CommissionRate is a per-account override for one (category, type) pair.
// Downstream compression: a child's rate must not exceed its parent's for the
// same pair. Violations are rejected at write time; anything already persisted
// is clamped during distribution instead of failing settlement.
type CommissionRate struct {
	ID             snowflake.ID                 `gorm:"primaryKey"`
	AccountID      snowflake.ID                 `gorm:"not null;uniqueIndex:ux_commission_rates_account_category_type,priority:1"`
	GameCategory   GameCategory                 `gorm:"type:text;not null;uniqueIndex:ux_commission_rates_account_category_type,priority:2"`
	CommissionType accountdomain.CommissionType `gorm:"type:text;not null;uniqueIndex:ux_commission_rates_account_category_type,priority:3"`
	Rate           decimal.Decimal              `gorm:"type:decimal(5,2);not null"`
	CreatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CommissionRate) TableName() string { return "commission_rates" }

// Resolution is the effective commission rate for one account and category.
type Resolution struct {
	Type accountdomain.CommissionType
	Rate decimal.Decimal
}

var (
	ErrUnsupportedCategory = errors.New("unsupported_game_category")
	ErrInvalidRate         = errors.New("invalid_commission_rate")
	ErrRateExceedsParent   = errors.New("rate_exceeds_parent_rate")
	ErrAccountNotFound     = errors.New("rate_account_not_found")
)
