package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/internal/clock"
	"github.com/smallbiznis/stakeroom/internal/commission/domain"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/stakeroom/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stakeroom/internal/observability/metrics"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	"github.com/smallbiznis/stakeroom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// errAlreadyClaimed signals a (bet, agent) pair another caller has handled.
var errAlreadyClaimed = errors.New("posting_already_claimed")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	Resolver    ratedomain.Resolver
	Ledger      ledgerdomain.Service
	Guard       *idempotency.Guard
	Config      config.Config
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	resolver    ratedomain.Resolver
	ledger      ledgerdomain.Service
	guard       *idempotency.Guard
	maxDepth    int
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	settlement := p.Config.Settlement.WithDefaults()
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("commission.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		resolver:    p.Resolver,
		ledger:      p.Ledger,
		guard:       p.Guard,
		maxDepth:    settlement.MaxChainDepth,
		metrics:     p.Metrics,
	}
}

// Distribute walks the agent chain from the bettor's direct agent to the root
// and posts each agent's differential commission. The chain is validated
// acyclic before any posting; per-node failures are isolated and reported,
// never rolled back.
func (s *Service) Distribute(ctx context.Context, req domain.Request) (domain.Result, error) {
	if req.BetID == 0 {
		return domain.Result{}, domain.ErrInvalidBetID
	}
	if !req.Category.Valid() {
		return domain.Result{}, ratedomain.ErrUnsupportedCategory
	}
	if req.RollingBasis.IsNegative() || req.LosingBasis.IsNegative() {
		return domain.Result{}, domain.ErrInvalidBasis
	}

	leaf, err := s.accountRepo.FindByID(ctx, s.db, req.LeafAccountID)
	if err != nil {
		return domain.Result{}, err
	}
	if leaf == nil {
		return domain.Result{}, domain.ErrLeafNotFound
	}

	chain, err := s.buildChain(ctx, leaf)
	if err != nil {
		s.log.Error("agent chain rejected, no commissions posted",
			zap.String("bet_id", req.BetID.String()),
			zap.String("leaf_account_id", leaf.ID.String()),
			zap.Error(err),
		)
		return domain.Result{}, err
	}

	// Highest rate already compensated per commission type. Rates across a
	// type boundary do not compose, so each type accumulates independently
	// and a parent of a different type earns its full rate.
	compensated := map[accountdomain.CommissionType]decimal.Decimal{}

	var result domain.Result
	for depth, agent := range chain {
		resolution, err := s.resolver.Resolve(ctx, agent, req.Category)
		if err != nil {
			// Rate lookup failure degrades the node to rate zero; the
			// chain above it still settles.
			s.log.Warn("rate resolution failed, treating node as zero rate",
				zap.String("agent_id", agent.ID.String()),
				zap.String("category", string(req.Category)),
				zap.Error(err),
			)
			resolution = ratedomain.Resolution{Type: agent.CommissionType, Rate: decimal.Zero}
		}

		applied := compensated[resolution.Type]
		differential := resolution.Rate.Sub(applied)
		if differential.IsNegative() {
			// Persisted compression violation: clamp, never go negative.
			differential = decimal.Zero
		}
		compensated[resolution.Type] = decimal.Max(applied, resolution.Rate)

		basis := req.RollingBasis
		if resolution.Type == accountdomain.CommissionTypeLosing {
			basis = req.LosingBasis
		}

		amount := basis.Mul(differential).Div(hundred).Round(2)
		if !amount.IsPositive() {
			continue
		}

		posting, err := s.postNode(ctx, agent, req, resolution, basis, differential, amount, depth+1)
		if err != nil {
			if errors.Is(err, errAlreadyClaimed) {
				if s.metrics != nil {
					s.metrics.RecordIdempotentReplay("commission_posting")
				}
				continue
			}
			s.log.Error("commission posting failed, continuing chain",
				zap.String("bet_id", req.BetID.String()),
				zap.String("agent_id", agent.ID.String()),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.RecordDistributionFailure()
			}
			result.Failures = append(result.Failures, domain.NodeFailure{AgentID: agent.ID, Err: err})
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordCommissionPosting(string(req.Category))
		}
		result.Postings = append(result.Postings, posting)
	}

	return result, nil
}

// buildChain collects the agent chain leaf-to-root before any money moves. A
// cycle or an over-deep chain rejects the whole distribution.
func (s *Service) buildChain(ctx context.Context, leaf *accountdomain.Account) ([]*accountdomain.Account, error) {
	visited := map[snowflake.ID]struct{}{leaf.ID: {}}

	var chain []*accountdomain.Account
	next := leaf.ParentID
	for next != nil {
		if _, seen := visited[*next]; seen {
			return nil, domain.ErrHierarchyCycle
		}
		if len(chain) >= s.maxDepth {
			return nil, domain.ErrMaxDepthExceeded
		}

		agent, err := s.accountRepo.FindByID(ctx, s.db, *next)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			// Dangling parent reference terminates the chain; nodes below
			// it still settled.
			s.log.Warn("parent account missing, terminating chain early",
				zap.String("parent_id", next.String()),
			)
			break
		}

		visited[agent.ID] = struct{}{}
		chain = append(chain, agent)
		next = agent.ParentID
	}
	return chain, nil
}

func (s *Service) postNode(
	ctx context.Context,
	agent *accountdomain.Account,
	req domain.Request,
	resolution ratedomain.Resolution,
	basis, rate, amount decimal.Decimal,
	depth int,
) (domain.Posting, error) {
	now := s.clock.Now()
	posting := domain.Posting{
		ID:             s.genID.Generate(),
		AgentID:        agent.ID,
		BetID:          req.BetID,
		GameCategory:   req.Category,
		CommissionType: resolution.Type,
		Basis:          basis,
		Rate:           rate,
		Amount:         amount,
		Depth:          depth,
		Status:         domain.PostingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The claim and the pending posting commit together: exactly one posting
	// per (bet, agent) even under concurrent duplicate settlement triggers.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.guard.ClaimTx(ctx, tx, postingClaimKey(req.BetID, agent.ID))
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyClaimed
		}
		return s.repo.Insert(ctx, tx, &posting)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Posting{}, errAlreadyClaimed
		}
		return domain.Posting{}, err
	}

	entry, err := s.ledger.Post(ctx, ledgerdomain.PostRequest{
		AccountID:     agent.ID,
		EntryType:     ledgerdomain.EntryTypeCommissionCredit,
		Amount:        amount,
		ReferenceType: ledgerdomain.ReferenceTypePosting,
		ReferenceID:   posting.ID,
		Metadata: map[string]any{
			"bet_id":   req.BetID.String(),
			"category": string(req.Category),
			"rate":     rate.String(),
		},
	})
	if err != nil {
		// The pending posting row stays behind for manual reconciliation.
		return domain.Posting{}, fmt.Errorf("ledger posting: %w", err)
	}

	if err := s.repo.MarkPosted(ctx, s.db, posting.ID, entry.ID); err != nil {
		return domain.Posting{}, err
	}
	posting.Status = domain.PostingStatusPosted
	posting.LedgerEntryID = &entry.ID
	return posting, nil
}

func (s *Service) ReversePosting(ctx context.Context, postingID snowflake.ID, reason string) (domain.Posting, error) {
	posting, err := s.repo.FindByID(ctx, s.db, postingID)
	if err != nil {
		return domain.Posting{}, err
	}
	if posting == nil {
		return domain.Posting{}, domain.ErrPostingNotFound
	}
	if posting.Status != domain.PostingStatusPosted || posting.LedgerEntryID == nil {
		return domain.Posting{}, domain.ErrPostingNotPosted
	}

	if _, err := s.ledger.Reverse(ctx, *posting.LedgerEntryID, reason); err != nil {
		return domain.Posting{}, err
	}
	if err := s.repo.MarkReversed(ctx, s.db, posting.ID); err != nil {
		return domain.Posting{}, err
	}

	posting.Status = domain.PostingStatusReversed
	s.log.Info("commission posting reversed",
		zap.String("posting_id", posting.ID.String()),
		zap.String("reason", reason),
	)
	return *posting, nil
}

func (s *Service) ListByBet(ctx context.Context, betID snowflake.ID) ([]domain.Posting, error) {
	return s.repo.ListByBet(ctx, s.db, betID)
}

func postingClaimKey(betID, agentID snowflake.ID) string {
	return fmt.Sprintf("commission:%s:%s", betID, agentID)
}
