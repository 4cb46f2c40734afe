package billingentry

import (
	"github.com/smallbiznis/meterline/internal/billingentry/repository"
	"github.com/smallbiznis/meterline/internal/billingentry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingentry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
