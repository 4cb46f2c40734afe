package event

import (
	"github.com/smallbiznis/meterline/internal/event/repository"
	"github.com/smallbiznis/meterline/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
