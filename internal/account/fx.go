package account

import (
	"github.com/smallbiznis/stakeroom/internal/account/repository"
	"github.com/smallbiznis/stakeroom/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
