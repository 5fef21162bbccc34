package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
)

// PostingStatus is the lifecycle of one commission posting.
type PostingStatus string

const (
	PostingStatusPending  PostingStatus = "pending"
	PostingStatusPosted   PostingStatus = "posted"
	PostingStatusReversed PostingStatus = "reversed"
)

// Posting is one computed commission amount for one (agent, bet) pair. The
// pair is the idempotency key: at most one posting ever exists for it.
type Posting struct {
	ID             snowflake.ID                 `gorm:"primaryKey"`
	AgentID        snowflake.ID                 `gorm:"not null;uniqueIndex:ux_commission_postings_bet_agent,priority:2"`
	BetID          snowflake.ID                 `gorm:"not null;uniqueIndex:ux_commission_postings_bet_agent,priority:1"`
	LedgerEntryID  *snowflake.ID                `gorm:"index"`
	GameCategory   ratedomain.GameCategory      `gorm:"type:text;not null"`
	CommissionType accountdomain.CommissionType `gorm:"type:text;not null"`
	Basis          decimal.Decimal              `gorm:"type:decimal(18,2);not null"`
	Rate           decimal.Decimal              `gorm:"type:decimal(5,2);not null"`
	Amount         decimal.Decimal              `gorm:"type:decimal(18,2);not null"`
	Depth          int                          `gorm:"not null"`
	Status         PostingStatus                `gorm:"type:text;not null;default:'pending';index"`
	CreatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Posting) TableName() string { return "commission_postings" }

// NodeFailure records one agent whose commission could not be posted. The
// rest of the chain is unaffected; these rows await manual reconciliation.
type NodeFailure struct {
	AgentID snowflake.ID
	Err     error
}

// Result is the outcome of distributing one bet's commissions. Failures never
// roll back postings already made to other nodes in the same chain.
type Result struct {
	Postings []Posting
	Failures []NodeFailure
}

type Request struct {
	LeafAccountID snowflake.ID
	Category      ratedomain.GameCategory
	RollingBasis  decimal.Decimal
	LosingBasis   decimal.Decimal
	BetID         snowflake.ID
}

var (
	ErrLeafNotFound      = errors.New("leaf_account_not_found")
	ErrHierarchyCycle    = errors.New("agent_hierarchy_cycle")
	ErrMaxDepthExceeded  = errors.New("agent_chain_too_deep")
	ErrPostingNotFound   = errors.New("commission_posting_not_found")
	ErrPostingNotPosted  = errors.New("commission_posting_not_posted")
	ErrInvalidBasis      = errors.New("invalid_commission_basis")
	ErrInvalidBetID      = errors.New("invalid_bet_reference")
)
