package meterevent

import (
	"github.com/smallbiznis/meterline/internal/meterevent/backfill"
	"github.com/smallbiznis/meterline/internal/meterevent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("meterevent",
	fx.Provide(repository.Provide),
	fx.Provide(backfill.NewWorker),
)
