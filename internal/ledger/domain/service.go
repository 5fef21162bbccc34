package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stakeroom/pkg/db/pagination"
)

// PostRequest describes one balance mutation. Amount is signed: debits are
// negative, credits positive.
type PostRequest struct {
	AccountID     snowflake.ID
	EntryType     EntryType
	Amount        decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   snowflake.ID
	Metadata      map[string]any
}

type ListEntriesRequest struct {
	AccountID snowflake.ID
	Page      pagination.Pagination
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// ReplayReport is the result of folding an account's entries in creation
// order against its stored balance.
type ReplayReport struct {
	AccountID     snowflake.ID
	Entries       int
	ComputedFinal decimal.Decimal
	StoredBalance decimal.Decimal
	Consistent    bool
}

// Service owns account balances. No other component mutates a balance
// directly; every mutation flows through Post inside a single transaction
// holding the account row lock.
type Service interface {
	Post(ctx context.Context, req PostRequest) (Entry, error)
	Reverse(ctx context.Context, entryID snowflake.ID, reason string) (Entry, error)
	BalanceOf(ctx context.Context, accountID snowflake.ID) (decimal.Decimal, error)
	Deposit(ctx context.Context, accountID snowflake.ID, amount decimal.Decimal, referenceID snowflake.ID) (Entry, error)
	Withdraw(ctx context.Context, accountID snowflake.ID, amount decimal.Decimal, referenceID snowflake.ID) (Entry, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)

	// Replay is the reconciliation/audit tool, not part of the hot path.
	// A mismatch freezes the account and returns ErrReplayMismatch.
	Replay(ctx context.Context, accountID snowflake.ID) (ReplayReport, error)
}
