package domain

import (
	"context"

	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/stakeroom/internal/commission/domain"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
)

type PlaceRequest struct {
	AccountCode  string
	GameCategory ratedomain.GameCategory
	Provider     string
	Stake        decimal.Decimal
	Metadata     map[string]any
}

type SettleRequest struct {
	Reference string
	Payout    decimal.Decimal
}

// SettleResult reports one settlement. Replayed means the record was already
// terminal and nothing changed; the caller treats this as success.
type SettleResult struct {
	Bet          BetRecord
	Distribution commissiondomain.Result
	Replayed     bool
}

type VoidResult struct {
	Bet      BetRecord
	Replayed bool
}

// Service drives the bet settlement state machine. Settlement retries are
// caller-driven; the idempotency guard makes them safe.
type Service interface {
	Place(ctx context.Context, req PlaceRequest) (BetRecord, error)
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
	Void(ctx context.Context, reference, reason string) (VoidResult, error)
	GetByReference(ctx context.Context, reference string) (BetRecord, error)
}
