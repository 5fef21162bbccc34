package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stakeroom/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SettlementSummary is the fire-and-forget payload published after a bet's
// commissions distribute. Consumers refresh admin UI state; their failure
// never blocks or rolls back ledger commits.
type SettlementSummary struct {
	BetID        string `json:"bet_id"`
	Reference    string `json:"reference"`
	AccountID    string `json:"account_id"`
	GameCategory string `json:"game_category"`
	Postings     int    `json:"postings"`
	Failures     int    `json:"failures"`
}

type Notifier struct {
	client  *redis.Client
	log     *zap.Logger
	channel string
}

type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
	Config config.Config
}

func New(p Params) *Notifier {
	return &Notifier{
		client:  p.Client,
		log:     p.Log.Named("notify"),
		channel: p.Config.Settlement.WithDefaults().NotifyChannel,
	}
}

// SettlementDistributed publishes the summary. Errors are logged and dropped.
func (n *Notifier) SettlementDistributed(ctx context.Context, summary SettlementSummary) {
	if n == nil || n.client == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		n.log.Warn("failed to encode settlement summary", zap.Error(err))
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Warn("failed to publish settlement summary",
			zap.String("bet_id", summary.BetID),
			zap.Error(err),
		)
	}
}

var Module = fx.Module("notify",
	fx.Provide(New),
)
