package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type RegisterRequest struct {
	Code           string
	Name           string
	Kind           AccountKind
	ParentCode     string
	CommissionType CommissionType
	LosingRate     decimal.Decimal
}

type GetRequest struct {
	ID   string
	Code string
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (Account, error)
	Get(ctx context.Context, req GetRequest) (Account, error)
	Deactivate(ctx context.Context, code string) error
}
