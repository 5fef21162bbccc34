package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	betdomain "github.com/smallbiznis/stakeroom/internal/bet/domain"
	"github.com/smallbiznis/stakeroom/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Event is one upstream settlement instruction pulled off the intake list.
type Event struct {
	Type      string          `json:"type"` // "settle" or "void"
	Reference string          `json:"reference"`
	Payout    decimal.Decimal `json:"payout"`
	Reason    string          `json:"reason,omitempty"`
}

const (
	eventTypeSettle = "settle"
	eventTypeVoid   = "void"

	popTimeout = 5 * time.Second
)

// Consumer drains settlement events from a Redis list and drives the bet
// service. Settlement is idempotent, so a crash between BLPOP and Settle
// loses at most one in-flight event to upstream retry.
type Consumer struct {
	client  *redis.Client
	log     *zap.Logger
	bets    betdomain.Service
	listKey string

	cancel context.CancelFunc
	done   chan struct{}
}

type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
	Config config.Config
	Bets   betdomain.Service
}

func New(p Params) *Consumer {
	return &Consumer{
		client:  p.Client,
		log:     p.Log.Named("intake"),
		bets:    p.Bets,
		listKey: p.Config.Settlement.WithDefaults().IntakeListKey,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.client == nil {
		c.log.Info("redis not configured, intake consumer disabled")
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
	c.log.Info("intake consumer started", zap.String("list", c.listKey))
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}
		values, err := c.client.BLPop(ctx, popTimeout, c.listKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.Warn("intake pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(values) < 2 {
			continue
		}
		c.handle(ctx, []byte(values[1]))
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		c.log.Warn("dropping malformed intake event", zap.Error(err))
		return
	}

	switch event.Type {
	case eventTypeSettle:
		result, err := c.bets.Settle(ctx, betdomain.SettleRequest{
			Reference: event.Reference,
			Payout:    event.Payout,
		})
		if err != nil {
			c.log.Error("intake settle failed",
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
			return
		}
		if result.Replayed {
			return
		}
		c.log.Info("intake settle applied",
			zap.String("reference", event.Reference),
			zap.Int("postings", len(result.Distribution.Postings)),
		)
	case eventTypeVoid:
		if _, err := c.bets.Void(ctx, event.Reference, event.Reason); err != nil {
			c.log.Error("intake void failed",
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
		}
	default:
		c.log.Warn("dropping intake event with unknown type",
			zap.String("type", event.Type),
		)
	}
}
