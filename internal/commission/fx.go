package commission

import (
	"github.com/smallbiznis/stakeroom/internal/commission/repository"
	"github.com/smallbiznis/stakeroom/internal/commission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("commission.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
