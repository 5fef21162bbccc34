package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/internal/cache"
	"github.com/smallbiznis/stakeroom/internal/rate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var maxRate = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	Cache       cache.RateResolverCache
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	accountRepo accountdomain.Repository
	cache       cache.RateResolverCache
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("rate.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		cache:       p.Cache,
	}
}

// Resolve returns the effective commission rate for an account and category.
// Override rows win; accounts of type losing fall back to their flat losing
// rate; everything else resolves to zero.
func (s *Service) Resolve(ctx context.Context, account *accountdomain.Account, category domain.GameCategory) (domain.Resolution, error) {
	if account == nil {
		return domain.Resolution{}, domain.ErrAccountNotFound
	}
	if !category.Valid() {
		return domain.Resolution{}, domain.ErrUnsupportedCategory
	}

	commissionType := account.CommissionType
	if cached, ok := s.cache.Get(account.ID, category, commissionType); ok {
		return cached, nil
	}

	resolution, err := s.resolveUncached(ctx, account, category)
	if err != nil {
		return domain.Resolution{}, err
	}

	s.cache.Set(account.ID, category, commissionType, resolution)
	return resolution, nil
}

func (s *Service) resolveUncached(ctx context.Context, account *accountdomain.Account, category domain.GameCategory) (domain.Resolution, error) {
	override, err := s.repo.Find(ctx, s.db, account.ID, category, account.CommissionType)
	if err != nil {
		return domain.Resolution{}, err
	}
	if override != nil {
		return domain.Resolution{Type: account.CommissionType, Rate: clampRate(override.Rate)}, nil
	}
	if account.CommissionType == accountdomain.CommissionTypeLosing {
		return domain.Resolution{Type: accountdomain.CommissionTypeLosing, Rate: clampRate(account.LosingRate)}, nil
	}
	return domain.Resolution{Type: accountdomain.CommissionTypeRolling, Rate: decimal.Zero}, nil
}

func (s *Service) SetRate(ctx context.Context, req domain.SetRateRequest) (domain.CommissionRate, error) {
	if !req.GameCategory.Valid() {
		return domain.CommissionRate{}, domain.ErrUnsupportedCategory
	}
	if !req.CommissionType.Valid() {
		return domain.CommissionRate{}, accountdomain.ErrInvalidType
	}
	rate := req.Rate
	if rate.IsNegative() || rate.GreaterThan(maxRate) || !rate.Equal(rate.Round(2)) {
		return domain.CommissionRate{}, domain.ErrInvalidRate
	}

	account, err := s.accountRepo.FindByCode(ctx, s.db, slug.Make(strings.TrimSpace(req.AccountCode)))
	if err != nil {
		return domain.CommissionRate{}, err
	}
	if account == nil {
		return domain.CommissionRate{}, domain.ErrAccountNotFound
	}

	// Downstream compression: reject a child rate above its parent's
	// effective rate for the same (category, type).
	if account.ParentID != nil {
		parent, err := s.accountRepo.FindByID(ctx, s.db, *account.ParentID)
		if err != nil {
			return domain.CommissionRate{}, err
		}
		if parent != nil && parent.CommissionType == req.CommissionType {
			parentRes, err := s.resolveUncached(ctx, parent, req.GameCategory)
			if err != nil {
				return domain.CommissionRate{}, err
			}
			if rate.GreaterThan(parentRes.Rate) {
				return domain.CommissionRate{}, domain.ErrRateExceedsParent
			}
		}
	}

	now := nowUTC()
	row := domain.CommissionRate{
		ID:             s.genID.Generate(),
		AccountID:      account.ID,
		GameCategory:   req.GameCategory,
		CommissionType: req.CommissionType,
		Rate:           rate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Upsert(ctx, s.db, &row); err != nil {
		return domain.CommissionRate{}, err
	}

	s.cache.Invalidate(account.ID, req.GameCategory, req.CommissionType)

	s.log.Info("commission rate updated",
		zap.String("account_id", account.ID.String()),
		zap.String("category", string(req.GameCategory)),
		zap.String("type", string(req.CommissionType)),
		zap.String("rate", rate.String()),
	)
	return row, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountCode string) ([]domain.CommissionRate, error) {
	account, err := s.accountRepo.FindByCode(ctx, s.db, slug.Make(strings.TrimSpace(accountCode)))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return s.repo.ListByAccount(ctx, s.db, account.ID)
}

func clampRate(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(maxRate) {
		return maxRate
	}
	return rate
}
