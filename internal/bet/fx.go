package bet

import (
	"github.com/smallbiznis/stakeroom/internal/bet/repository"
	"github.com/smallbiznis/stakeroom/internal/bet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
