package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/billingentry"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/customermeter"
	"github.com/smallbiznis/meterline/internal/event"
	"github.com/smallbiznis/meterline/internal/meter"
	"github.com/smallbiznis/meterline/internal/meterevent"
	"github.com/smallbiznis/meterline/internal/observability"
	"github.com/smallbiznis/meterline/internal/price"
	"github.com/smallbiznis/meterline/internal/scheduler"
	"github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		event.Module,
		meter.Module,
		meterevent.Module,
		customermeter.Module,
		price.Module,
		billingentry.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
