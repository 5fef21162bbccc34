package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
)

const defaultRateTTL = 2 * time.Minute

// RateResolverCache stores hot-path rate resolutions for commission
// distribution. Entries are invalidated on every rate-table write.
type RateResolverCache interface {
	Get(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType) (ratedomain.Resolution, bool)
	Set(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType, resolution ratedomain.Resolution)
	Invalidate(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType)
}

type rateResolverCache struct {
	resolutions Cache[string, ratedomain.Resolution]
	ttl         time.Duration
}

// NewRateResolverCache returns an in-memory cache tuned for rate resolution.
// A non-positive ttl falls back to the default.
func NewRateResolverCache(ttl time.Duration) RateResolverCache {
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &rateResolverCache{
		resolutions: NewTTLCache[string, ratedomain.Resolution](),
		ttl:         ttl,
	}
}

func (c *rateResolverCache) Get(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType) (ratedomain.Resolution, bool) {
	return c.resolutions.Get(cacheKey(accountID.String(), string(category), string(commissionType)))
}

func (c *rateResolverCache) Set(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType, resolution ratedomain.Resolution) {
	c.resolutions.Set(cacheKey(accountID.String(), string(category), string(commissionType)), resolution, c.ttl)
}

func (c *rateResolverCache) Invalidate(accountID snowflake.ID, category ratedomain.GameCategory, commissionType accountdomain.CommissionType) {
	c.resolutions.Delete(cacheKey(accountID.String(), string(category), string(commissionType)))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
