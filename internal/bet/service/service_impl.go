package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/internal/bet/domain"
	"github.com/smallbiznis/stakeroom/internal/clock"
	commissiondomain "github.com/smallbiznis/stakeroom/internal/commission/domain"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/stakeroom/internal/ledger/domain"
	"github.com/smallbiznis/stakeroom/internal/notify"
	obsmetrics "github.com/smallbiznis/stakeroom/internal/observability/metrics"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errAlreadyHandled marks a settlement another caller has claimed.
var errAlreadyHandled = errors.New("settlement_already_handled")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	LedgerRepo  ledgerdomain.Repository
	Ledger      ledgerdomain.Service
	Commission  commissiondomain.Service
	Guard       *idempotency.Guard
	Config      config.Config
	Locker      *idempotency.Locker `optional:"true"`
	Notifier    *notify.Notifier    `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	ledgerRepo  ledgerdomain.Repository
	ledger      ledgerdomain.Service
	commission  commissiondomain.Service
	guard       *idempotency.Guard
	locker      *idempotency.Locker
	claimTTL    time.Duration
	notifier    *notify.Notifier
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("bet.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		ledgerRepo:  p.LedgerRepo,
		ledger:      p.Ledger,
		commission:  p.Commission,
		guard:       p.Guard,
		locker:      p.Locker,
		claimTTL:    p.Config.Settlement.WithDefaults().ClaimTTL,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// Place debits the stake and records the pending bet. The bet_debit entry is
// posted here; settlement later posts the matching bet_credit.
func (s *Service) Place(ctx context.Context, req domain.PlaceRequest) (domain.BetRecord, error) {
	if !req.GameCategory.Valid() {
		return domain.BetRecord{}, ratedomain.ErrUnsupportedCategory
	}
	stake := req.Stake.Round(2)
	if !stake.IsPositive() {
		return domain.BetRecord{}, domain.ErrInvalidStake
	}

	account, err := s.accountRepo.FindByCode(ctx, s.db, slug.Make(strings.TrimSpace(req.AccountCode)))
	if err != nil {
		return domain.BetRecord{}, err
	}
	if account == nil {
		return domain.BetRecord{}, domain.ErrInvalidAccount
	}
	if !account.IsActive() {
		return domain.BetRecord{}, domain.ErrInvalidAccount
	}

	now := s.clock.Now()
	betID := s.genID.Generate()

	var metadata datatypes.JSON
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return domain.BetRecord{}, err
		}
		metadata = datatypes.JSON(raw)
	}

	bet := domain.BetRecord{
		ID:           betID,
		Reference:    ulid.Make().String(),
		AccountID:    account.ID,
		GameCategory: req.GameCategory,
		Provider:     strings.TrimSpace(req.Provider),
		Stake:        stake,
		Payout:       decimal.Zero,
		Profit:       decimal.Zero,
		Status:       domain.BetStatusPending,
		Metadata:     metadata,
		PlacedAt:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	debit, err := s.ledger.Post(ctx, ledgerdomain.PostRequest{
		AccountID:     account.ID,
		EntryType:     ledgerdomain.EntryTypeBetDebit,
		Amount:        stake.Neg(),
		ReferenceType: ledgerdomain.ReferenceTypeBet,
		ReferenceID:   betID,
		Metadata:      map[string]any{"reference": bet.Reference},
	})
	if err != nil {
		return domain.BetRecord{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &bet); err != nil {
		// Undo the stake debit so the ledger stays reconciled with the
		// missing bet row.
		if _, revErr := s.ledger.Reverse(ctx, debit.ID, "bet record insert failed"); revErr != nil {
			s.log.Error("failed to reverse orphaned bet debit",
				zap.String("entry_id", debit.ID.String()),
				zap.Error(revErr),
			)
		}
		return domain.BetRecord{}, err
	}

	s.log.Info("bet placed",
		zap.String("bet_id", bet.ID.String()),
		zap.String("reference", bet.Reference),
		zap.String("account_id", account.ID.String()),
		zap.String("stake", stake.String()),
	)
	return bet, nil
}

// Settle finalizes a pending bet: credits the payout, then distributes
// commissions up the agent chain. Re-settling a terminal bet is a logged
// no-op, never an error to the caller.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResult, error) {
	payout := req.Payout.Round(2)
	if payout.IsNegative() {
		return domain.SettleResult{}, domain.ErrInvalidPayout
	}

	bet, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(req.Reference))
	if err != nil {
		return domain.SettleResult{}, err
	}
	if bet == nil {
		return domain.SettleResult{}, domain.ErrNotFound
	}
	if bet.Status.Terminal() {
		return s.replaySettled(ctx, bet)
	}

	// Redis fast path: shed concurrent duplicate triggers before they
	// contend on the claims table. The database claim stays authoritative.
	if release, acquired := s.tryLock(ctx, settleClaimKey(bet.ID)); !acquired {
		s.logReplay(bet)
		return domain.SettleResult{Bet: *bet, Replayed: true}, nil
	} else if release != nil {
		defer release()
	}

	started := s.clock.Now()
	settledAt := started
	profit := payout.Sub(bet.Stake)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.guard.ClaimTx(ctx, tx, settleClaimKey(bet.ID))
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyHandled
		}
		won, err := s.repo.MarkSettled(ctx, tx, bet.ID, payout, profit, settledAt)
		if err != nil {
			return err
		}
		if !won {
			return errAlreadyHandled
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyHandled) {
			s.logReplay(bet)
			current, findErr := s.repo.FindByID(ctx, s.db, bet.ID)
			if findErr == nil && current != nil {
				bet = current
			}
			return domain.SettleResult{Bet: *bet, Replayed: true}, nil
		}
		return domain.SettleResult{}, err
	}

	bet.Status = domain.BetStatusSettled
	bet.Payout = payout
	bet.Profit = profit
	bet.SettledAt = &settledAt

	if payout.IsPositive() {
		if _, err := s.ledger.Post(ctx, ledgerdomain.PostRequest{
			AccountID:     bet.AccountID,
			EntryType:     ledgerdomain.EntryTypeBetCredit,
			Amount:        payout,
			ReferenceType: ledgerdomain.ReferenceTypeBet,
			ReferenceID:   bet.ID,
			Metadata:      map[string]any{"reference": bet.Reference},
		}); err != nil {
			// The bet is already settled; the missing payout credit needs
			// manual reconciliation rather than a rollback of settlement.
			s.log.Error("payout credit failed after settlement",
				zap.String("bet_id", bet.ID.String()),
				zap.Error(err),
			)
			return domain.SettleResult{Bet: *bet}, fmt.Errorf("payout credit: %w", err)
		}
	}

	distribution, err := s.commission.Distribute(ctx, commissiondomain.Request{
		LeafAccountID: bet.AccountID,
		Category:      bet.GameCategory,
		RollingBasis:  bet.RollingBasis(),
		LosingBasis:   bet.LosingBasis(),
		BetID:         bet.ID,
	})
	if err != nil {
		// Chain-level rejection (cycle, depth): the bet stays settled, no
		// commissions posted, operator remediation required.
		s.log.Error("commission distribution rejected",
			zap.String("bet_id", bet.ID.String()),
			zap.Error(err),
		)
		return domain.SettleResult{Bet: *bet}, err
	}

	if s.notifier != nil {
		s.notifier.SettlementDistributed(ctx, notify.SettlementSummary{
			BetID:        bet.ID.String(),
			Reference:    bet.Reference,
			AccountID:    bet.AccountID.String(),
			GameCategory: string(bet.GameCategory),
			Postings:     len(distribution.Postings),
			Failures:     len(distribution.Failures),
		})
	}
	if s.metrics != nil {
		s.metrics.ObserveSettlement(s.clock.Now().Sub(started))
	}

	s.log.Info("bet settled",
		zap.String("bet_id", bet.ID.String()),
		zap.String("payout", payout.String()),
		zap.Int("postings", len(distribution.Postings)),
		zap.Int("posting_failures", len(distribution.Failures)),
	)
	return domain.SettleResult{Bet: *bet, Distribution: distribution}, nil
}

// Void cancels a pending bet and refunds the stake. No commissions are
// distributed. Voiding an already-voided bet is a no-op; voiding a settled
// bet is a conflicting transition and fails.
func (s *Service) Void(ctx context.Context, reference, reason string) (domain.VoidResult, error) {
	bet, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(reference))
	if err != nil {
		return domain.VoidResult{}, err
	}
	if bet == nil {
		return domain.VoidResult{}, domain.ErrNotFound
	}
	if bet.Status == domain.BetStatusVoided {
		if err := s.recoverVoidRefund(ctx, bet, reason); err != nil {
			return domain.VoidResult{}, err
		}
		s.logReplay(bet)
		return domain.VoidResult{Bet: *bet, Replayed: true}, nil
	}
	if bet.Status == domain.BetStatusSettled {
		return domain.VoidResult{}, domain.ErrAlreadySettled
	}

	if release, acquired := s.tryLock(ctx, voidClaimKey(bet.ID)); !acquired {
		s.logReplay(bet)
		return domain.VoidResult{Bet: *bet, Replayed: true}, nil
	} else if release != nil {
		defer release()
	}

	voidedAt := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.guard.ClaimTx(ctx, tx, voidClaimKey(bet.ID))
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyHandled
		}
		won, err := s.repo.MarkVoided(ctx, tx, bet.ID, voidedAt)
		if err != nil {
			return err
		}
		if !won {
			return errAlreadyHandled
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyHandled) {
			s.logReplay(bet)
			return domain.VoidResult{Bet: *bet, Replayed: true}, nil
		}
		return domain.VoidResult{}, err
	}

	bet.Status = domain.BetStatusVoided
	bet.SettledAt = &voidedAt

	entry, err := s.findBetDebit(ctx, bet.ID)
	if err != nil {
		return domain.VoidResult{Bet: *bet}, err
	}
	if entry != nil {
		if _, err := s.ledger.Reverse(ctx, entry.ID, reason); err != nil {
			s.log.Error("stake refund failed after void",
				zap.String("bet_id", bet.ID.String()),
				zap.Error(err),
			)
			return domain.VoidResult{Bet: *bet}, fmt.Errorf("stake refund: %w", err)
		}
	}

	s.log.Info("bet voided",
		zap.String("bet_id", bet.ID.String()),
		zap.String("reason", reason),
	)
	return domain.VoidResult{Bet: *bet}, nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (domain.BetRecord, error) {
	bet, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(reference))
	if err != nil {
		return domain.BetRecord{}, err
	}
	if bet == nil {
		return domain.BetRecord{}, domain.ErrNotFound
	}
	return *bet, nil
}

// replaySettled handles a settle call for a bet that is already terminal. A
// settled bet with a positive payout but no bet_credit entry means a prior
// attempt committed the status flip and then failed before the ledger post;
// the retry must finish that work instead of no-opping, or the payout is
// permanently lost. The credit and the distribution are both idempotent from
// here, so finishing twice is safe.
func (s *Service) replaySettled(ctx context.Context, bet *domain.BetRecord) (domain.SettleResult, error) {
	if bet.Status != domain.BetStatusSettled || !bet.Payout.IsPositive() {
		s.logReplay(bet)
		return domain.SettleResult{Bet: *bet, Replayed: true}, nil
	}

	release, acquired := s.tryLock(ctx, settleClaimKey(bet.ID))
	if !acquired {
		// Another caller is mid-settlement and will post the credit itself.
		s.logReplay(bet)
		return domain.SettleResult{Bet: *bet, Replayed: true}, nil
	}
	if release != nil {
		defer release()
	}

	credit, err := s.ledgerRepo.FindByReference(ctx, s.db, ledgerdomain.ReferenceTypeBet, bet.ID, ledgerdomain.EntryTypeBetCredit)
	if err != nil {
		return domain.SettleResult{}, err
	}
	if credit != nil {
		s.logReplay(bet)
		return domain.SettleResult{Bet: *bet, Replayed: true}, nil
	}

	s.log.Warn("settled bet missing payout credit, completing settlement",
		zap.String("bet_id", bet.ID.String()),
		zap.String("payout", bet.Payout.String()),
	)
	if _, err := s.ledger.Post(ctx, ledgerdomain.PostRequest{
		AccountID:     bet.AccountID,
		EntryType:     ledgerdomain.EntryTypeBetCredit,
		Amount:        bet.Payout,
		ReferenceType: ledgerdomain.ReferenceTypeBet,
		ReferenceID:   bet.ID,
		Metadata:      map[string]any{"reference": bet.Reference},
	}); err != nil {
		return domain.SettleResult{}, fmt.Errorf("payout credit: %w", err)
	}

	distribution, err := s.commission.Distribute(ctx, commissiondomain.Request{
		LeafAccountID: bet.AccountID,
		Category:      bet.GameCategory,
		RollingBasis:  bet.RollingBasis(),
		LosingBasis:   bet.LosingBasis(),
		BetID:         bet.ID,
	})
	if err != nil {
		s.log.Error("commission distribution rejected",
			zap.String("bet_id", bet.ID.String()),
			zap.Error(err),
		)
		return domain.SettleResult{Bet: *bet, Replayed: true}, err
	}
	return domain.SettleResult{Bet: *bet, Distribution: distribution, Replayed: true}, nil
}

// recoverVoidRefund re-drives the stake refund for an already-voided bet. The
// refund is a reversal of the bet_debit entry, which the ledger only accepts
// once, so re-driving on every replay costs a lookup and nothing else.
func (s *Service) recoverVoidRefund(ctx context.Context, bet *domain.BetRecord, reason string) error {
	entry, err := s.findBetDebit(ctx, bet.ID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if _, err := s.ledger.Reverse(ctx, entry.ID, reason); err != nil {
		if errors.Is(err, ledgerdomain.ErrAlreadyReversed) {
			return nil
		}
		s.log.Error("stake refund recovery failed",
			zap.String("bet_id", bet.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("stake refund: %w", err)
	}
	s.log.Warn("voided bet missing stake refund, refunded on replay",
		zap.String("bet_id", bet.ID.String()),
	)
	return nil
}

// tryLock acquires the redis fast-path lock for key. Without a locker, or
// when redis misbehaves, it reports acquired so the database claim decides.
func (s *Service) tryLock(ctx context.Context, key string) (func(), bool) {
	if s.locker == nil {
		return nil, true
	}
	token, acquired, err := s.locker.TryLock(ctx, "lock:"+key, s.claimTTL)
	if err != nil {
		s.log.Warn("fast-path lock unavailable, relying on claims table", zap.Error(err))
		return nil, true
	}
	if !acquired {
		return nil, false
	}
	return func() {
		if err := s.locker.Release(ctx, "lock:"+key, token); err != nil {
			s.log.Warn("failed to release fast-path lock", zap.Error(err))
		}
	}, true
}

func (s *Service) findBetDebit(ctx context.Context, betID snowflake.ID) (*ledgerdomain.Entry, error) {
	return s.ledgerRepo.FindByReference(ctx, s.db, ledgerdomain.ReferenceTypeBet, betID, ledgerdomain.EntryTypeBetDebit)
}

func (s *Service) logReplay(bet *domain.BetRecord) {
	s.log.Info("settlement replay ignored, bet already terminal",
		zap.String("bet_id", bet.ID.String()),
		zap.String("status", string(bet.Status)),
	)
	if s.metrics != nil {
		s.metrics.RecordIdempotentReplay("bet_settlement")
	}
}

func settleClaimKey(betID snowflake.ID) string { return fmt.Sprintf("bet:settle:%s", betID) }
func voidClaimKey(betID snowflake.ID) string   { return fmt.Sprintf("bet:void:%s", betID) }
