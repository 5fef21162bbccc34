package migration

import (
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	betdomain "github.com/smallbiznis/stakeroom/internal/bet/domain"
	commissiondomain "github.com/smallbiznis/stakeroom/internal/commission/domain"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/idempotency"
	ledgerdomain "github.com/smallbiznis/stakeroom/internal/ledger/domain"
	ratedomain "github.com/smallbiznis/stakeroom/internal/rate/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&ratedomain.CommissionRate{},
				&betdomain.BetRecord{},
				&ledgerdomain.Entry{},
				&commissiondomain.Posting{},
				&idempotency.Claim{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
