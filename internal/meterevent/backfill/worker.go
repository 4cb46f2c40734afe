// Package backfill rebuilds the meter-event index by walking an
// organization's event history. The job is idempotent and resumable: pages
// are keyset cursors over event ids, inserts ignore duplicates, and the
// cursor persists per organization.
package backfill

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/config"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Engine    *config.EngineConfigHolder
	MeterRepo meterdomain.Repository
	EventRepo eventdomain.Repository
	Repo      metereventdomain.Repository
	Metrics   *metrics.Metrics `optional:"true"`
}

type Worker struct {
	db        *gorm.DB
	log       *zap.Logger
	engine    *config.EngineConfigHolder
	meterRepo meterdomain.Repository
	eventRepo eventdomain.Repository
	repo      metereventdomain.Repository
	metrics   *metrics.Metrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:        p.DB,
		log:       p.Log.Named("meterevent.backfill"),
		engine:    p.Engine,
		meterRepo: p.MeterRepo,
		eventRepo: p.EventRepo,
		repo:      p.Repo,
		metrics:   p.Metrics,
	}
}

// Run backfills one organization to the end of its event history. It checks
// cancellation between pages only, never mid-page, so the per-page commit
// and cursor advance stay atomic.
func (w *Worker) Run(ctx context.Context, orgID snowflake.ID) error {
	meters, err := w.meterRepo.ListActive(ctx, w.db, orgID)
	if err != nil {
		return err
	}
	if len(meters) == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cfg := w.engine.Get()
		processed, err := w.processPage(ctx, orgID, meters, cfg.BackfillPageSize)
		if err != nil {
			return err
		}
		if processed == 0 {
			return nil
		}

		w.metrics.RecordBackfillPage(ctx, orgID.String())
		if cfg.BackfillPageDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.BackfillPageDelay):
			}
		}
	}
}

// processPage commits one page: evaluate membership for every meter, upsert
// the matches, advance the cursor. Ignored events are logged, never fatal.
func (w *Worker) processPage(ctx context.Context, orgID snowflake.ID, meters []meterdomain.Meter, pageSize int) (int, error) {
	var afterID snowflake.ID
	cursor, err := w.repo.FindCursor(ctx, w.db, orgID)
	if err != nil {
		return 0, err
	}
	if cursor != nil {
		afterID = cursor.LastEventID
	}

	events, err := w.eventRepo.ListPage(ctx, w.db, orgID, afterID, pageSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var rows []metereventdomain.MeterEvent
	for i := range events {
		event := &events[i]
		for j := range meters {
			meter := &meters[j]
			if !meter.IncludesEvent(event) {
				continue
			}
			rows = append(rows, metereventdomain.MeterEvent{
				MeterID:            meter.ID,
				EventID:            event.ID,
				OrgID:              event.OrgID,
				CustomerID:         event.CustomerID,
				ExternalCustomerID: event.ExternalCustomerID,
				Timestamp:          event.Timestamp,
				IngestedAt:         event.IngestedAt,
				CreatedAt:          time.Now().UTC(),
			})
		}
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := w.repo.UpsertBatch(ctx, tx, rows); err != nil {
			return err
		}
		return w.repo.SaveCursor(ctx, tx, &metereventdomain.BackfillCursor{
			OrgID:       orgID,
			LastEventID: events[len(events)-1].ID,
			UpdatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}

	w.metrics.RecordMeterEventsIndexed(ctx, len(rows))
	w.log.Info("backfill page committed",
		zap.String("org_id", orgID.String()),
		zap.Int("events", len(events)),
		zap.Int("rows", len(rows)),
	)
	return len(events), nil
}
