package domain

import (
	"context"

	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
)

// Resolver resolves the effective commission rate for an account and category.
// A missing rate is not an error; it resolves to zero, meaning "no commission
// for this node". Resolution is a pure lookup backed by a write-invalidated
// cache.
type Resolver interface {
	Resolve(ctx context.Context, account *accountdomain.Account, category GameCategory) (Resolution, error)
}

type SetRateRequest struct {
	AccountCode    string
	GameCategory   GameCategory
	CommissionType accountdomain.CommissionType
	Rate           decimal.Decimal
}

// Service owns rate configuration writes and exposes the Resolver read path.
type Service interface {
	Resolver

	SetRate(ctx context.Context, req SetRateRequest) (CommissionRate, error)
	ListByAccount(ctx context.Context, accountCode string) ([]CommissionRate, error)
}
