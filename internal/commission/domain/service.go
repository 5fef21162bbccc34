package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service walks the agent chain above a bettor and posts differential
// commissions. Distribution runs to completion or partial failure; it is
// never cancelled mid-chain.
type Service interface {
	Distribute(ctx context.Context, req Request) (Result, error)
	ReversePosting(ctx context.Context, postingID snowflake.ID, reason string) (Posting, error)
	ListByBet(ctx context.Context, betID snowflake.ID) ([]Posting, error)
}
