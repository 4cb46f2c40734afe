package backfill

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	eventrepository "github.com/smallbiznis/meterline/internal/event/repository"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	meterrepository "github.com/smallbiznis/meterline/internal/meter/repository"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	metereventrepository "github.com/smallbiznis/meterline/internal/meterevent/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	worker *Worker
	repo   metereventdomain.Repository
	orgID  snowflake.ID
	meter  *meterdomain.Meter
}

func setup(t *testing.T, pageSize int) *fixture {
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
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	f := &fixture{
		db:    db,
		node:  node,
		clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		repo:  metereventrepository.Provide(),
		orgID: node.Generate(),
	}

	meterRepo := meterrepository.Provide()
	f.meter = &meterdomain.Meter{
		ID:    node.Generate(),
		OrgID: f.orgID,
		Name:  "api calls",
		Filter: meterdomain.Filter{
			Conjunction: meterdomain.FilterConjunctionAnd,
			Clauses: []meterdomain.FilterNode{
				{Clause: &meterdomain.FilterClause{
					Property: "name",
					Operator: meterdomain.FilterOperatorEq,
					Value:    eventdomain.StringValue("api.request"),
				}},
			},
		},
		Aggregation: meterdomain.Aggregation{Func: meterdomain.AggregationCount},
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := meterRepo.Insert(context.Background(), db, f.meter); err != nil {
		t.Fatalf("insert meter: %v", err)
	}

	f.worker = NewWorker(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Engine:    config.StaticEngineConfigHolder(config.EngineConfig{BackfillPageSize: pageSize}),
		MeterRepo: meterRepo,
		EventRepo: eventrepository.Provide(),
		Repo:      f.repo,
	})
	return f
}

func (f *fixture) ingest(t *testing.T, name string) *eventdomain.Event {
	t.Helper()
	e := &eventdomain.Event{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Name:       name,
		Source:     eventdomain.EventSourceUser,
		Timestamp:  f.clock.Now(),
		IngestedAt: f.clock.Now(),
		Metadata:   datatypes.JSONMap{"units": float64(1)},
	}
	if err := eventrepository.Provide().Insert(context.Background(), f.db, e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return e
}

func (f *fixture) indexCount(t *testing.T) int64 {
	t.Helper()
	count, err := f.repo.Count(context.Background(), f.db, f.meter.ID)
	if err != nil {
		t.Fatalf("count index: %v", err)
	}
	return count
}

func TestBackfillIndexesMatchingEvents(t *testing.T) {
	f := setup(t, 500)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		f.ingest(t, "api.request")
	}
	for i := 0; i < 3; i++ {
		f.ingest(t, "unrelated.event")
	}

	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("run: %v", err)
	}

	assert.Equal(t, int64(7), f.indexCount(t))

	// The cursor sits at the end of history, unmatched events included.
	cursor, err := f.repo.FindCursor(ctx, f.db, f.orgID)
	if err != nil {
		t.Fatalf("find cursor: %v", err)
	}
	if assert.NotNil(t, cursor) {
		var lastID snowflake.ID
		f.db.Model(&eventdomain.Event{}).Select("max(id)").Scan(&lastID)
		assert.Equal(t, lastID, cursor.LastEventID)
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	f := setup(t, 500)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.ingest(t, "api.request")
	}

	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := f.indexCount(t)

	// A second full pass from a wiped cursor revisits every event; duplicate
	// membership rows are silently ignored.
	if err := f.db.Where("org_id = ?", f.orgID).Delete(&metereventdomain.BackfillCursor{}).Error; err != nil {
		t.Fatalf("wipe cursor: %v", err)
	}
	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("second run: %v", err)
	}

	assert.Equal(t, first, f.indexCount(t))
}

func TestBackfillResumesFromCursor(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	var events []*eventdomain.Event
	for i := 0; i < 5; i++ {
		events = append(events, f.ingest(t, "api.request"))
	}

	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("run: %v", err)
	}
	assert.Equal(t, int64(5), f.indexCount(t))

	// New events after the cursor are picked up without rescanning history.
	f.ingest(t, "api.request")
	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	assert.Equal(t, int64(6), f.indexCount(t))

	cursor, err := f.repo.FindCursor(ctx, f.db, f.orgID)
	if err != nil {
		t.Fatalf("find cursor: %v", err)
	}
	assert.NotEqual(t, events[0].ID, cursor.LastEventID)
}

func TestBackfillIndexesCorrections(t *testing.T) {
	f := setup(t, 500)
	ctx := context.Background()

	credit := &eventdomain.Event{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Name:       eventdomain.EventNameMeterCredited,
		Source:     eventdomain.EventSourceSystem,
		Timestamp:  f.clock.Now(),
		IngestedAt: f.clock.Now(),
		Metadata: datatypes.JSONMap{
			eventdomain.MetadataKeyMeterID: f.meter.ID.String(),
			eventdomain.MetadataKeyUnits:   float64(10),
		},
	}
	if err := eventrepository.Provide().Insert(ctx, f.db, credit); err != nil {
		t.Fatalf("insert credit: %v", err)
	}

	if err := f.worker.Run(ctx, f.orgID); err != nil {
		t.Fatalf("run: %v", err)
	}
	assert.Equal(t, int64(1), f.indexCount(t))
}

func TestBackfillNoMetersIsNoop(t *testing.T) {
	f := setup(t, 500)
	ctx := context.Background()

	emptyOrg := f.node.Generate()
	if err := f.worker.Run(ctx, emptyOrg); err != nil {
		t.Fatalf("run: %v", err)
	}

	cursor, err := f.repo.FindCursor(ctx, f.db, emptyOrg)
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}
