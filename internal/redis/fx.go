package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stakeroom/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewClient builds the shared redis client. A missing REDIS_ADDR returns nil;
// consumers degrade gracefully (no fast-path locks, no notifications).
func NewClient(cfg config.Config, log *zap.Logger) *goredis.Client {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured, fast-path locking and notifications disabled")
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func registerHooks(lc fx.Lifecycle, client *goredis.Client) {
	if client == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
}

var Module = fx.Module("redis",
	fx.Provide(NewClient),
	fx.Invoke(registerHooks),
)
