package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EntryType classifies balance-affecting events.
type EntryType string

const (
	EntryTypeBetDebit         EntryType = "bet_debit"
	EntryTypeBetCredit        EntryType = "bet_credit"
	EntryTypeCommissionCredit EntryType = "commission_credit"
	EntryTypeDeposit          EntryType = "deposit"
	EntryTypeWithdrawal       EntryType = "withdrawal"
	EntryTypeReversal         EntryType = "reversal"
)

var entryTypes = map[EntryType]struct{}{
	EntryTypeBetDebit:         {},
	EntryTypeBetCredit:        {},
	EntryTypeCommissionCredit: {},
	EntryTypeDeposit:          {},
	EntryTypeWithdrawal:       {},
	EntryTypeReversal:         {},
}

func (t EntryType) Valid() bool {
	_, ok := entryTypes[t]
	return ok
}

// IsSpend reports whether an entry type represents a spend that must never
// drive the balance negative.
func (t EntryType) IsSpend() bool {
	return t == EntryTypeBetDebit || t == EntryTypeWithdrawal
}

// ReferenceType names the record an entry originates from.
type ReferenceType string

const (
	ReferenceTypeBet     ReferenceType = "bet"
	ReferenceTypePosting ReferenceType = "commission_posting"
	ReferenceTypeManual  ReferenceType = "manual"
	ReferenceTypeEntry   ReferenceType = "ledger_entry"
)

// Entry is one immutable, append-only balance mutation. Replaying all entries
// for an account in creation order must reproduce its stored balance exactly.
// Corrections are new reversal entries; rows are never updated or deleted.
type Entry struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	AccountID     snowflake.ID    `gorm:"not null;index:ix_ledger_entries_account_created"`
	EntryType     EntryType       `gorm:"type:text;not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ReferenceType ReferenceType   `gorm:"type:text;not null"`
	ReferenceID   snowflake.ID    `gorm:"not null;index"`
	ReversalOf    *snowflake.ID   `gorm:"uniqueIndex:ux_ledger_entries_reversal_of"`
	Metadata      datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_ledger_entries_account_created"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

var (
	ErrInvalidAccount      = errors.New("invalid_ledger_account")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidAmount       = errors.New("invalid_entry_amount")
	ErrInvalidReference    = errors.New("invalid_entry_reference")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrLedgerBusy          = errors.New("ledger_busy")
	ErrEntryNotFound       = errors.New("ledger_entry_not_found")
	ErrAlreadyReversed     = errors.New("ledger_entry_already_reversed")
	ErrReplayMismatch      = errors.New("ledger_replay_mismatch")
)
