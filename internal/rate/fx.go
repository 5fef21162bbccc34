package rate

import (
	"github.com/smallbiznis/stakeroom/internal/cache"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/rate/domain"
	"github.com/smallbiznis/stakeroom/internal/rate/repository"
	"github.com/smallbiznis/stakeroom/internal/rate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.service",
	fx.Provide(provideCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(provideResolver),
)

func provideCache(cfg config.Config) cache.RateResolverCache {
	return cache.NewRateResolverCache(cfg.Settlement.WithDefaults().RateCacheTTL)
}

func provideResolver(svc domain.Service) domain.Resolver {
	return svc
}
