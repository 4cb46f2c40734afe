package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	customermeterdomain "github.com/smallbiznis/meterline/internal/customermeter/domain"
	customermeterrepository "github.com/smallbiznis/meterline/internal/customermeter/repository"
	customermeterservice "github.com/smallbiznis/meterline/internal/customermeter/service"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	eventrepository "github.com/smallbiznis/meterline/internal/event/repository"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	meterrepository "github.com/smallbiznis/meterline/internal/meter/repository"
	"github.com/smallbiznis/meterline/internal/meterevent/backfill"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	metereventrepository "github.com/smallbiznis/meterline/internal/meterevent/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	sched      *Scheduler
	cmSvc      customermeterdomain.Service
	orgID      snowflake.ID
	customerID snowflake.ID
	meter      *meterdomain.Meter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&eventdomain.Event{},
		&eventdomain.EventClosure{},
		&meterdomain.Meter{},
		&metereventdomain.MeterEvent{},
		&metereventdomain.BackfillCursor{},
		&customermeterdomain.CustomerMeter{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	f := &fixture{
		db:         db,
		node:       node,
		clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		orgID:      node.Generate(),
		customerID: node.Generate(),
	}

	holder := config.StaticEngineConfigHolder(config.EngineConfig{})
	meterRepo := meterrepository.Provide()
	eventRepo := eventrepository.Provide()
	meRepo := metereventrepository.Provide()
	log := zap.NewNop()

	f.meter = &meterdomain.Meter{
		ID:          node.Generate(),
		OrgID:       f.orgID,
		Name:        "requests",
		Filter:      meterdomain.MatchAll(),
		Aggregation: meterdomain.Aggregation{Func: meterdomain.AggregationCount},
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := meterRepo.Insert(context.Background(), db, f.meter); err != nil {
		t.Fatalf("insert meter: %v", err)
	}

	worker := backfill.NewWorker(backfill.Params{
		DB:        db,
		Log:       log,
		Engine:    holder,
		MeterRepo: meterRepo,
		EventRepo: eventRepo,
		Repo:      meRepo,
	})
	f.cmSvc = customermeterservice.New(customermeterservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          f.clock,
		Engine:         holder,
		Repo:           customermeterrepository.Provide(),
		MeterRepo:      meterRepo,
		EventRepo:      eventRepo,
		MeterEventRepo: meRepo,
	})
	f.sched = New(Params{
		DB:               db,
		Log:              log,
		Clock:            f.clock,
		Engine:           holder,
		MeterRepo:        meterRepo,
		MeterEventRepo:   meRepo,
		Backfill:         worker,
		CustomerMeterSvc: f.cmSvc,
	})
	return f
}

func (f *fixture) ingest(t *testing.T, count int) {
	t.Helper()
	repo := eventrepository.Provide()
	for i := 0; i < count; i++ {
		e := &eventdomain.Event{
			ID:         f.node.Generate(),
			OrgID:      f.orgID,
			CustomerID: &f.customerID,
			Name:       "api.request",
			Source:     eventdomain.EventSourceUser,
			Timestamp:  f.clock.Now(),
			IngestedAt: f.clock.Now(),
			Metadata:   datatypes.JSONMap{"units": float64(1)},
		}
		if err := repo.Insert(context.Background(), f.db, e); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
}

func TestPassesIndexAndBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.ingest(t, 3)

	if err := f.sched.RunBackfillPass(ctx); err != nil {
		t.Fatalf("backfill pass: %v", err)
	}
	var indexed int64
	f.db.Model(&metereventdomain.MeterEvent{}).Count(&indexed)
	assert.Equal(t, int64(3), indexed)

	if err := f.sched.RunUpdaterPass(ctx); err != nil {
		t.Fatalf("updater pass: %v", err)
	}
	cm, err := f.cmSvc.Get(ctx, f.orgID.String(), f.customerID.String(), f.meter.ID.String())
	if err != nil {
		t.Fatalf("get customer meter: %v", err)
	}
	assert.True(t, cm.ConsumedUnits.Equal(decimal.NewFromInt(3)), "got %s", cm.ConsumedUnits)

	// Passes are idempotent once caught up.
	if err := f.sched.RunBackfillPass(ctx); err != nil {
		t.Fatalf("second backfill pass: %v", err)
	}
	if err := f.sched.RunUpdaterPass(ctx); err != nil {
		t.Fatalf("second updater pass: %v", err)
	}
	again, err := f.cmSvc.Get(ctx, f.orgID.String(), f.customerID.String(), f.meter.ID.String())
	if err != nil {
		t.Fatalf("get customer meter: %v", err)
	}
	assert.True(t, again.ConsumedUnits.Equal(cm.ConsumedUnits))
	assert.Equal(t, cm.Watermark(), again.Watermark())
}

func TestUpdaterPassSkipsEmptyOrg(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A meter with no events produces no work.
	if err := f.sched.RunUpdaterPass(ctx); err != nil {
		t.Fatalf("updater pass: %v", err)
	}
	_, err := f.cmSvc.Get(ctx, f.orgID.String(), f.customerID.String(), f.meter.ID.String())
	assert.ErrorIs(t, err, customermeterdomain.ErrNotFound)
}
