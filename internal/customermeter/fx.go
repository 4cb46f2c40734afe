package customermeter

import (
	"github.com/smallbiznis/meterline/internal/customermeter/repository"
	"github.com/smallbiznis/meterline/internal/customermeter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customermeter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
