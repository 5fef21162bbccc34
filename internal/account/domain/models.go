package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AccountKind separates balance-holding players from commission-earning agents.
type AccountKind string

const (
	AccountKindAgent AccountKind = "agent"
	AccountKindUser  AccountKind = "user"
)

// AccountStatus is the lifecycle state of an account. Accounts are never hard
// deleted; ledger history must stay replayable.
type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "active"
	AccountStatusDeactivated AccountStatus = "deactivated"
	// AccountStatusFrozen marks an account whose ledger replay no longer
	// matches its stored balance. Postings are rejected until an operator
	// reconciles it.
	AccountStatusFrozen AccountStatus = "frozen"
)

// CommissionType selects how an account earns commission: a share of total
// stake wagered (rolling) or a share of the bettor's net loss (losing). The
// two are mutually exclusive per account.
type CommissionType string

const (
	CommissionTypeRolling CommissionType = "rolling"
	CommissionTypeLosing  CommissionType = "losing"
)

func (t CommissionType) Valid() bool {
	return t == CommissionTypeRolling || t == CommissionTypeLosing
}

// Account is any balance-holding node in the agent tree. ParentID is nil for
// root agents and immutable after creation.
type Account struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	Code           string          `gorm:"type:text;not null;uniqueIndex:ux_accounts_code"`
	Name           string          `gorm:"type:text;not null"`
	Kind           AccountKind     `gorm:"type:text;not null"`
	ParentID       *snowflake.ID   `gorm:"index"`
	CommissionType CommissionType  `gorm:"type:text;not null"`
	LosingRate     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	Balance        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Status         AccountStatus   `gorm:"type:text;not null;default:'active';index"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

func (a *Account) IsActive() bool { return a.Status == AccountStatusActive }

var (
	ErrNotFound           = errors.New("account_not_found")
	ErrInvalidCode        = errors.New("invalid_account_code")
	ErrInvalidName        = errors.New("invalid_account_name")
	ErrInvalidKind        = errors.New("invalid_account_kind")
	ErrInvalidType        = errors.New("invalid_commission_type")
	ErrInvalidLosingRate  = errors.New("invalid_losing_rate")
	ErrParentNotFound     = errors.New("parent_account_not_found")
	ErrParentNotAgent     = errors.New("parent_account_not_agent")
	ErrParentInactive     = errors.New("parent_account_inactive")
	ErrCodeTaken          = errors.New("account_code_taken")
	ErrAccountFrozen      = errors.New("account_frozen")
	ErrAccountDeactivated = errors.New("account_deactivated")
)
