package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stakeroom/internal/account"
	"github.com/smallbiznis/stakeroom/internal/bet"
	"github.com/smallbiznis/stakeroom/internal/clock"
	"github.com/smallbiznis/stakeroom/internal/commission"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/idempotency"
	"github.com/smallbiznis/stakeroom/internal/intake"
	"github.com/smallbiznis/stakeroom/internal/ledger"
	"github.com/smallbiznis/stakeroom/internal/logger"
	"github.com/smallbiznis/stakeroom/internal/migration"
	"github.com/smallbiznis/stakeroom/internal/notify"
	"github.com/smallbiznis/stakeroom/internal/observability"
	"github.com/smallbiznis/stakeroom/internal/rate"
	"github.com/smallbiznis/stakeroom/internal/redis"
	"github.com/smallbiznis/stakeroom/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		migration.Module,
		idempotency.Module,

		// Functional domains
		account.Module,
		rate.Module,
		ledger.Module,
		commission.Module,
		bet.Module,
		notify.Module,
		intake.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("failed to initialize snowflake node: %v", err)
	}
	return node
}
