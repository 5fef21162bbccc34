package cache

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheSetGetDelete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	value, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("a", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCachePurge(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Purge()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestRateResolverCacheRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	accountID := node.Generate()

	c := NewRateResolverCache(time.Minute)
	resolution := ratedomain.Resolution{
		Type: accountdomain.CommissionTypeRolling,
		Rate: decimal.NewFromInt(5),
	}

	_, ok := c.Get(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeRolling)
	require.False(t, ok)

	c.Set(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeRolling, resolution)

	cached, ok := c.Get(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeRolling)
	require.True(t, ok)
	assert.True(t, cached.Rate.Equal(resolution.Rate))

	// A different category or type misses.
	_, ok = c.Get(accountID, ratedomain.CategorySlot, accountdomain.CommissionTypeRolling)
	assert.False(t, ok)
	_, ok = c.Get(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeLosing)
	assert.False(t, ok)

	c.Invalidate(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeRolling)
	_, ok = c.Get(accountID, ratedomain.CategoryCasino, accountdomain.CommissionTypeRolling)
	assert.False(t, ok)
}
