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
	"github.com/smallbiznis/stakeroom/internal/rate/domain"
	"github.com/smallbiznis/stakeroom/internal/rate/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func setupRates(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accountdomain.Account{}, &domain.CommissionRate{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        repository.Provide(),
		AccountRepo: accountrepo.Provide(),
		Cache:       cache.NewRateResolverCache(time.Minute),
	})
	return svc, db, node
}

func addAccount(t *testing.T, db *gorm.DB, node *snowflake.Node, code string, commissionType accountdomain.CommissionType, losingRate decimal.Decimal, parent *accountdomain.Account) *accountdomain.Account {
	t.Helper()
	var parentID *snowflake.ID
	if parent != nil {
		parentID = &parent.ID
	}
	account := accountdomain.Account{
		ID:             node.Generate(),
		Code:           code,
		Name:           code,
		Kind:           accountdomain.AccountKindAgent,
		ParentID:       parentID,
		CommissionType: commissionType,
		LosingRate:     losingRate,
		Balance:        decimal.Zero,
		Status:         accountdomain.AccountStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.Create(&account).Error)
	return &account
}

func TestResolveOverrideWins(t *testing.T) {
	svc, db, node := setupRates(t)
	account := addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)

	_, err := svc.SetRate(context.Background(), domain.SetRateRequest{
		AccountCode:    "agent",
		GameCategory:   domain.CategorySlot,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "7.25"),
	})
	require.NoError(t, err)

	resolution, err := svc.Resolve(context.Background(), account, domain.CategorySlot)
	require.NoError(t, err)
	assert.Equal(t, accountdomain.CommissionTypeRolling, resolution.Type)
	assert.True(t, resolution.Rate.Equal(dec(t, "7.25")))
}

func TestResolveLosingFallsBackToFlatRate(t *testing.T) {
	svc, db, node := setupRates(t)
	account := addAccount(t, db, node, "losing-agent", accountdomain.CommissionTypeLosing, dec(t, "12.5"), nil)

	resolution, err := svc.Resolve(context.Background(), account, domain.CategorySports)
	require.NoError(t, err)
	assert.Equal(t, accountdomain.CommissionTypeLosing, resolution.Type)
	assert.True(t, resolution.Rate.Equal(dec(t, "12.5")))
}

func TestResolveRollingDefaultsToZero(t *testing.T) {
	svc, db, node := setupRates(t)
	account := addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)

	resolution, err := svc.Resolve(context.Background(), account, domain.CategoryCasino)
	require.NoError(t, err)
	assert.True(t, resolution.Rate.IsZero())
}

func TestResolveRejectsUnsupportedCategory(t *testing.T) {
	svc, db, node := setupRates(t)
	account := addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)

	_, err := svc.Resolve(context.Background(), account, domain.GameCategory("bingo"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedCategory)
}

func TestSetRateRejectsInvalidRates(t *testing.T) {
	svc, db, node := setupRates(t)
	addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)

	for _, rate := range []string{"-1", "100.01", "5.125"} {
		_, err := svc.SetRate(context.Background(), domain.SetRateRequest{
			AccountCode:    "agent",
			GameCategory:   domain.CategoryCasino,
			CommissionType: accountdomain.CommissionTypeRolling,
			Rate:           dec(t, rate),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRate, "rate %s", rate)
	}
}

func TestSetRateEnforcesDownstreamCompression(t *testing.T) {
	svc, db, node := setupRates(t)
	parent := addAccount(t, db, node, "parent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)
	addAccount(t, db, node, "child", accountdomain.CommissionTypeRolling, decimal.Zero, parent)

	_, err := svc.SetRate(context.Background(), domain.SetRateRequest{
		AccountCode:    "parent",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "8"),
	})
	require.NoError(t, err)

	_, err = svc.SetRate(context.Background(), domain.SetRateRequest{
		AccountCode:    "child",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "9"),
	})
	assert.ErrorIs(t, err, domain.ErrRateExceedsParent)

	_, err = svc.SetRate(context.Background(), domain.SetRateRequest{
		AccountCode:    "child",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "8"),
	})
	assert.NoError(t, err, "a child rate equal to the parent's is allowed")
}

func TestSetRateInvalidatesResolverCache(t *testing.T) {
	svc, db, node := setupRates(t)
	account := addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)
	ctx := context.Background()

	_, err := svc.SetRate(ctx, domain.SetRateRequest{
		AccountCode:    "agent",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "5"),
	})
	require.NoError(t, err)

	resolution, err := svc.Resolve(ctx, account, domain.CategoryCasino)
	require.NoError(t, err)
	require.True(t, resolution.Rate.Equal(dec(t, "5")))

	_, err = svc.SetRate(ctx, domain.SetRateRequest{
		AccountCode:    "agent",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "6"),
	})
	require.NoError(t, err)

	resolution, err = svc.Resolve(ctx, account, domain.CategoryCasino)
	require.NoError(t, err)
	assert.True(t, resolution.Rate.Equal(dec(t, "6")), "the cached rate must be invalidated on write")
}

func TestSetRateUpsertsExistingRow(t *testing.T) {
	svc, db, node := setupRates(t)
	addAccount(t, db, node, "agent", accountdomain.CommissionTypeRolling, decimal.Zero, nil)
	ctx := context.Background()

	for _, rate := range []string{"5", "6"} {
		_, err := svc.SetRate(ctx, domain.SetRateRequest{
			AccountCode:    "agent",
			GameCategory:   domain.CategoryCasino,
			CommissionType: accountdomain.CommissionTypeRolling,
			Rate:           dec(t, rate),
		})
		require.NoError(t, err)
	}

	rows, err := svc.ListByAccount(ctx, "agent")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Rate.Equal(dec(t, "6")))
}

func TestSetRateUnknownAccount(t *testing.T) {
	svc, _, _ := setupRates(t)

	_, err := svc.SetRate(context.Background(), domain.SetRateRequest{
		AccountCode:    "nobody",
		GameCategory:   domain.CategoryCasino,
		CommissionType: accountdomain.CommissionTypeRolling,
		Rate:           dec(t, "5"),
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
