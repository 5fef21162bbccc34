package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var maxLosingRate = decimal.NewFromInt(50)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.Account, error) {
	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.Account{}, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Account{}, domain.ErrInvalidName
	}
	if req.Kind != domain.AccountKindAgent && req.Kind != domain.AccountKindUser {
		return domain.Account{}, domain.ErrInvalidKind
	}
	if !req.CommissionType.Valid() {
		return domain.Account{}, domain.ErrInvalidType
	}
	if req.LosingRate.IsNegative() || req.LosingRate.GreaterThan(maxLosingRate) {
		return domain.Account{}, domain.ErrInvalidLosingRate
	}
	if req.CommissionType == domain.CommissionTypeRolling && !req.LosingRate.IsZero() {
		return domain.Account{}, domain.ErrInvalidLosingRate
	}

	var parentID *snowflake.ID
	if parentCode := strings.TrimSpace(req.ParentCode); parentCode != "" {
		parent, err := s.repo.FindByCode(ctx, s.db, parentCode)
		if err != nil {
			return domain.Account{}, err
		}
		if parent == nil {
			return domain.Account{}, domain.ErrParentNotFound
		}
		if parent.Kind != domain.AccountKindAgent {
			return domain.Account{}, domain.ErrParentNotAgent
		}
		if !parent.IsActive() {
			return domain.Account{}, domain.ErrParentInactive
		}
		parentID = &parent.ID
	}

	now := nowUTC()
	account := domain.Account{
		ID:             s.genID.Generate(),
		Code:           code,
		Name:           name,
		Kind:           req.Kind,
		ParentID:       parentID,
		CommissionType: req.CommissionType,
		LosingRate:     req.LosingRate.Round(2),
		Balance:        decimal.Zero,
		Status:         domain.AccountStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Account{}, domain.ErrCodeTaken
		}
		return domain.Account{}, err
	}

	s.log.Info("account registered",
		zap.String("account_id", account.ID.String()),
		zap.String("code", account.Code),
		zap.String("kind", string(account.Kind)),
	)
	return account, nil
}

func (s *Service) Get(ctx context.Context, req domain.GetRequest) (domain.Account, error) {
	var (
		account *domain.Account
		err     error
	)
	switch {
	case strings.TrimSpace(req.ID) != "":
		id, parseErr := snowflake.ParseString(strings.TrimSpace(req.ID))
		if parseErr != nil {
			return domain.Account{}, domain.ErrNotFound
		}
		account, err = s.repo.FindByID(ctx, s.db, id)
	case strings.TrimSpace(req.Code) != "":
		account, err = s.repo.FindByCode(ctx, s.db, slug.Make(strings.TrimSpace(req.Code)))
	default:
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	account, err := s.repo.FindByCode(ctx, s.db, slug.Make(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrNotFound
	}
	if account.Status == domain.AccountStatusDeactivated {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, s.db, account.ID, domain.AccountStatusDeactivated); err != nil {
		return err
	}
	s.log.Info("account deactivated", zap.String("account_id", account.ID.String()))
	return nil
}
