package meter

import (
	"github.com/smallbiznis/meterline/internal/meter/repository"
	"github.com/smallbiznis/meterline/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
