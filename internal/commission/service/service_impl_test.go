package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	accountrepo "github.com/smallbiznis/stakeroom/internal/account/repository"
	"github.com/smallbiznis/stakeroom/internal/cache"
	"github.com/smallbiznis/stakeroom/internal/clock"
	"github.com/smallbiznis/stakeroom/internal/commission/domain"
	"github.com/smallbiznis/stakeroom/internal/commission/repository"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/stakeroom/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/stakeroom/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/stakeroom/internal/ledger/service"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	raterepo "github.com/smallbiznis/stakeroom/internal/rate/repository"
	rateservice "github.com/smallbiznis/stakeroom/internal/rate/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	svc      domain.Service
	rates    ratedomain.Service
	ledger   ledgerdomain.Service
	accounts accountdomain.Repository
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&ratedomain.CommissionRate{},
		&ledgerdomain.Entry{},
		&domain.Posting{},
		&idempotency.Claim{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{}
	accounts := accountrepo.Provide()

	rates := rateservice.New(rateservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        raterepo.Provide(),
		AccountRepo: accounts,
		Cache:       cache.NewRateResolverCache(time.Minute),
	})

	ledger := ledgerservice.New(ledgerservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        ledgerrepo.Provide(),
		AccountRepo: accounts,
		Config:      cfg,
	})

	svc := New(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repository.Provide(),
		AccountRepo: accounts,
		Resolver:    rates,
		Ledger:      ledger,
		Guard:       idempotency.NewGuard(db, fakeClock),
		Config:      cfg,
	})

	return &fixture{
		db:       db,
		node:     node,
		svc:      svc,
		rates:    rates,
		ledger:   ledger,
		accounts: accounts,
	}
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func (f *fixture) addAccount(t *testing.T, code string, kind accountdomain.AccountKind, commissionType accountdomain.CommissionType, losingRate decimal.Decimal, parent *accountdomain.Account) *accountdomain.Account {
	t.Helper()
	var parentID *snowflake.ID
	if parent != nil {
		parentID = &parent.ID
	}
	account := accountdomain.Account{
		ID:             f.node.Generate(),
		Code:           code,
		Name:           code,
		Kind:           kind,
		ParentID:       parentID,
		CommissionType: commissionType,
		LosingRate:     losingRate,
		Balance:        decimal.Zero,
		Status:         accountdomain.AccountStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&account).Error)
	return &account
}

func (f *fixture) setRate(t *testing.T, code string, commissionType accountdomain.CommissionType, rate string) {
	t.Helper()
	_, err := f.rates.SetRate(context.Background(), ratedomain.SetRateRequest{
		AccountCode:    code,
		GameCategory:   ratedomain.CategoryCasino,
		CommissionType: commissionType,
		Rate:           dec(t, rate),
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.BalanceOf(context.Background(), id)
	require.NoError(t, err)
	return balance
}

// Three rolling agents at 10/8/5 percent over a 1000 stake: the leaf-most
// agent earns its full 5%, each ancestor earns only the differential above
// the rate already paid out below it.
func TestDistributeDifferentialChain(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	top := f.addAccount(t, "top", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	mid := f.addAccount(t, "mid", accountdomain.AccountKindAgent, rolling, decimal.Zero, top)
	leafAgent := f.addAccount(t, "leaf", accountdomain.AccountKindAgent, rolling, decimal.Zero, mid)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, leafAgent)

	f.setRate(t, "top", rolling, "10")
	f.setRate(t, "mid", rolling, "8")
	f.setRate(t, "leaf", rolling, "5")

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	require.Len(t, result.Postings, 3)

	assert.True(t, f.balance(t, leafAgent.ID).Equal(dec(t, "50")))
	assert.True(t, f.balance(t, mid.ID).Equal(dec(t, "30")))
	assert.True(t, f.balance(t, top.ID).Equal(dec(t, "20")))

	for _, posting := range result.Postings {
		assert.Equal(t, domain.PostingStatusPosted, posting.Status)
		require.NotNil(t, posting.LedgerEntryID)
	}
	assert.Equal(t, 1, result.Postings[0].Depth)
	assert.Equal(t, 3, result.Postings[2].Depth)
}

// A losing-type parent above a rolling child does not compose with the
// child's rate: it earns its full rate against the losing basis.
func TestDistributeTypeMismatchEarnsFullRate(t *testing.T) {
	f := setup(t)

	parent := f.addAccount(t, "losing-parent", accountdomain.AccountKindAgent, accountdomain.CommissionTypeLosing, dec(t, "8"), nil)
	child := f.addAccount(t, "rolling-child", accountdomain.AccountKindAgent, accountdomain.CommissionTypeRolling, decimal.Zero, parent)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, accountdomain.CommissionTypeRolling, decimal.Zero, child)

	f.setRate(t, "rolling-child", accountdomain.CommissionTypeRolling, "5")

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   dec(t, "1000"),
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Len(t, result.Postings, 2)

	assert.True(t, f.balance(t, child.ID).Equal(dec(t, "50")))
	assert.True(t, f.balance(t, parent.ID).Equal(dec(t, "80")))
}

// A zero-rate node in the middle must not reset the differential baseline;
// the total paid out never exceeds the highest rate in the chain.
func TestDistributeZeroRateMiddleNode(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	top := f.addAccount(t, "top", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	mid := f.addAccount(t, "mid", accountdomain.AccountKindAgent, rolling, decimal.Zero, top)
	leafAgent := f.addAccount(t, "leaf", accountdomain.AccountKindAgent, rolling, decimal.Zero, mid)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, leafAgent)

	// mid carries no rate row and resolves to zero. The write path would
	// reject leaf=5 under a zero-rate parent, so persist the rows directly
	// the way a legacy import would.
	for _, row := range []ratedomain.CommissionRate{
		{ID: f.node.Generate(), AccountID: top.ID, GameCategory: ratedomain.CategoryCasino, CommissionType: rolling, Rate: dec(t, "10")},
		{ID: f.node.Generate(), AccountID: leafAgent.ID, GameCategory: ratedomain.CategoryCasino, CommissionType: rolling, Rate: dec(t, "5")},
	} {
		require.NoError(t, f.db.Create(&row).Error)
	}

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Len(t, result.Postings, 2)

	assert.True(t, f.balance(t, leafAgent.ID).Equal(dec(t, "50")))
	assert.True(t, f.balance(t, mid.ID).IsZero())
	assert.True(t, f.balance(t, top.ID).Equal(dec(t, "50")))

	total := f.balance(t, leafAgent.ID).Add(f.balance(t, mid.ID)).Add(f.balance(t, top.ID))
	assert.True(t, total.LessThanOrEqual(dec(t, "100")))
}

// A persisted child rate above its parent's (written before the compression
// check existed, or by hand) clamps the parent's differential to zero instead
// of going negative.
func TestDistributeClampsInvertedRates(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	parent := f.addAccount(t, "parent", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	child := f.addAccount(t, "child", accountdomain.AccountKindAgent, rolling, decimal.Zero, parent)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, child)

	// Bypass SetRate to persist an inverted pair.
	for _, row := range []ratedomain.CommissionRate{
		{ID: f.node.Generate(), AccountID: parent.ID, GameCategory: ratedomain.CategoryCasino, CommissionType: rolling, Rate: dec(t, "5")},
		{ID: f.node.Generate(), AccountID: child.ID, GameCategory: ratedomain.CategoryCasino, CommissionType: rolling, Rate: dec(t, "10")},
	} {
		require.NoError(t, f.db.Create(&row).Error)
	}

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Len(t, result.Postings, 1)

	assert.True(t, f.balance(t, child.ID).Equal(dec(t, "100")))
	assert.True(t, f.balance(t, parent.ID).IsZero())
}

func TestDistributeRejectsCycle(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	a := f.addAccount(t, "agent-a", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	b := f.addAccount(t, "agent-b", accountdomain.AccountKindAgent, rolling, decimal.Zero, a)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, b)

	// Corrupt the tree into a cycle: a's parent becomes b.
	require.NoError(t, f.db.Model(&accountdomain.Account{}).
		Where("id = ?", a.ID).
		Update("parent_id", b.ID).Error)

	_, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrHierarchyCycle)

	var count int64
	require.NoError(t, f.db.Model(&domain.Posting{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "a rejected chain must post nothing")
}

func TestDistributeDuplicateBetIsIdempotent(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	agent := f.addAccount(t, "agent", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, agent)
	f.setRate(t, "agent", rolling, "5")

	betID := f.node.Generate()
	req := domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         betID,
	}

	first, err := f.svc.Distribute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Postings, 1)

	second, err := f.svc.Distribute(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second.Postings)
	assert.Empty(t, second.Failures)

	assert.True(t, f.balance(t, agent.ID).Equal(dec(t, "50")))

	postings, err := f.svc.ListByBet(context.Background(), betID)
	require.NoError(t, err)
	assert.Len(t, postings, 1)
}

// A node whose ledger posting fails is skipped and reported; the rest of the
// chain still settles.
func TestDistributeIsolatesNodeFailure(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	top := f.addAccount(t, "top", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	mid := f.addAccount(t, "mid", accountdomain.AccountKindAgent, rolling, decimal.Zero, top)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, mid)

	f.setRate(t, "top", rolling, "10")
	f.setRate(t, "mid", rolling, "5")

	// Freeze mid so its ledger credit fails.
	require.NoError(t, f.db.Model(&accountdomain.Account{}).
		Where("id = ?", mid.ID).
		Update("status", accountdomain.AccountStatusFrozen).Error)

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, mid.ID, result.Failures[0].AgentID)
	require.Len(t, result.Postings, 1)
	assert.Equal(t, top.ID, result.Postings[0].AgentID)

	assert.True(t, f.balance(t, top.ID).Equal(dec(t, "50")))

	// The failed node leaves a pending posting behind for reconciliation.
	var pending domain.Posting
	require.NoError(t, f.db.First(&pending, "agent_id = ?", mid.ID).Error)
	assert.Equal(t, domain.PostingStatusPending, pending.Status)
}

func TestDistributeMaxDepthExceeded(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	var parent *accountdomain.Account
	for i := 0; i < 20; i++ {
		parent = f.addAccount(t, fmt.Sprintf("agent-%02d", i), accountdomain.AccountKindAgent, rolling, decimal.Zero, parent)
	}
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, parent)

	_, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrMaxDepthExceeded)
}

func TestReversePosting(t *testing.T) {
	f := setup(t)
	rolling := accountdomain.CommissionTypeRolling

	agent := f.addAccount(t, "agent", accountdomain.AccountKindAgent, rolling, decimal.Zero, nil)
	user := f.addAccount(t, "player", accountdomain.AccountKindUser, rolling, decimal.Zero, agent)
	f.setRate(t, "agent", rolling, "5")

	result, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.CategoryCasino,
		RollingBasis:  dec(t, "1000"),
		LosingBasis:   decimal.Zero,
		BetID:         f.node.Generate(),
	})
	require.NoError(t, err)
	require.Len(t, result.Postings, 1)

	reversed, err := f.svc.ReversePosting(context.Background(), result.Postings[0].ID, "bet voided")
	require.NoError(t, err)
	assert.Equal(t, domain.PostingStatusReversed, reversed.Status)
	assert.True(t, f.balance(t, agent.ID).IsZero())

	_, err = f.svc.ReversePosting(context.Background(), result.Postings[0].ID, "again")
	assert.ErrorIs(t, err, domain.ErrPostingNotPosted)
}

func TestDistributeUnsupportedCategory(t *testing.T) {
	f := setup(t)

	user := f.addAccount(t, "player", accountdomain.AccountKindUser, accountdomain.CommissionTypeRolling, decimal.Zero, nil)

	_, err := f.svc.Distribute(context.Background(), domain.Request{
		LeafAccountID: user.ID,
		Category:      ratedomain.GameCategory("poker"),
		RollingBasis:  dec(t, "1000"),
		BetID:         f.node.Generate(),
	})
	assert.ErrorIs(t, err, ratedomain.ErrUnsupportedCategory)
}
