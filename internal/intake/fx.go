package intake

import (
	"context"

	"github.com/smallbiznis/stakeroom/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("intake",
	fx.Provide(New),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, cfg config.Config, consumer *Consumer) {
	if !cfg.Settlement.IntakeEnabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return consumer.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return consumer.Stop(ctx) },
	})
}
