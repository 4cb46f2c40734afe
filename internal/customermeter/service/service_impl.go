package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	customermeterdomain "github.com/smallbiznis/meterline/internal/customermeter/domain"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Engine    *config.EngineConfigHolder
	Repo           customermeterdomain.Repository
	MeterRepo      meterdomain.Repository
	EventRepo      eventdomain.Repository
	MeterEventRepo metereventdomain.Repository
	Metrics        *metrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	engine         *config.EngineConfigHolder
	repo           customermeterdomain.Repository
	meterRepo      meterdomain.Repository
	eventRepo      eventdomain.Repository
	meterEventRepo metereventdomain.Repository
	metrics        *metrics.Metrics
}

func New(p Params) customermeterdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("customermeter.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		engine:         p.Engine,
		repo:           p.Repo,
		meterRepo:      p.MeterRepo,
		eventRepo:      p.EventRepo,
		meterEventRepo: p.MeterEventRepo,
		metrics:        p.Metrics,
	}
}

// Update advances one (customer, meter) balance past its watermark. The whole
// read-fold-advance sequence runs in a single transaction, and the final write
// is guarded by the watermark read at the start, so two concurrent updaters
// can never double-count or skip events.
func (s *Service) Update(ctx context.Context, orgID, customerID, meterID string) (customermeterdomain.UpdateResult, error) {
	var result customermeterdomain.UpdateResult

	org, err := parseID(orgID)
	if err != nil {
		return result, customermeterdomain.ErrInvalidOrganization
	}
	custID, err := parseID(customerID)
	if err != nil {
		return result, customermeterdomain.ErrInvalidCustomer
	}
	mID, err := parseID(meterID)
	if err != nil {
		return result, customermeterdomain.ErrInvalidMeter
	}

	meter, err := s.meterRepo.FindByID(ctx, s.db, org, mID)
	if err != nil {
		return result, err
	}
	if meter == nil {
		return result, customermeterdomain.ErrMeterNotFound
	}

	batchSize := s.engine.Get().UpdaterBatchSize

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.updateOnce(ctx, tx, org, custID, meter, batchSize)
		return txErr
	})
	if err != nil {
		return customermeterdomain.UpdateResult{}, err
	}

	s.metrics.RecordCustomerMeterUpdate(ctx, result.Changed)
	return result, nil
}

func (s *Service) updateOnce(
	ctx context.Context,
	tx *gorm.DB,
	org, custID snowflake.ID,
	meter *meterdomain.Meter,
	batchSize int,
) (customermeterdomain.UpdateResult, error) {
	var result customermeterdomain.UpdateResult

	cm, err := s.repo.Find(ctx, tx, custID, meter.ID)
	if err != nil {
		return result, err
	}
	existing := cm != nil
	if cm == nil {
		// Lazily created the first time the customer has events to scan;
		// zero-valued until something folds in.
		cm = &customermeterdomain.CustomerMeter{
			ID:         s.genID.Generate(),
			OrgID:      org,
			CustomerID: custID,
			MeterID:    meter.ID,
			CreatedAt:  s.clock.Now(),
		}
	}
	expected := cm.Watermark()

	events, err := s.eventRepo.ListForCustomerAfter(ctx, tx, org, custID, expected, batchSize)
	if err != nil {
		return result, err
	}

	result.CustomerMeter = cm
	if len(events) == 0 {
		return result, nil
	}

	// Unique aggregations cannot advance by per-batch deltas: a value seen
	// in an earlier batch would count again. The distinct count is
	// recomputed over the membership index instead.
	unique := meter.Aggregation.Func == meterdomain.AggregationUnique

	acc := meter.Aggregation.NewAccumulator()
	changed := false
	for i := range events {
		e := &events[i]
		if unique && e.Source != eventdomain.EventSourceSystem {
			continue
		}
		if s.fold(cm, meter, acc, e) {
			changed = true
		}
	}

	last := events[len(events)-1].ID
	if unique {
		distinct, err := s.distinctConsumed(ctx, tx, org, custID, meter, last)
		if err != nil {
			return result, err
		}
		if !distinct.Equal(cm.ConsumedUnits) {
			cm.ConsumedUnits = distinct
			changed = true
		}
	}

	result.Processed = len(events)
	result.Changed = changed

	// The watermark always moves past every scanned event, folded or not.
	// A run of non-matching events must never pin the balance in place.
	cm.Rebalance()
	cm.LastBalancedEventID = &last
	cm.UpdatedAt = s.clock.Now()

	if !existing {
		if err := s.repo.Insert(ctx, tx, cm); err != nil {
			if db.IsDuplicateKeyErr(err) {
				// A concurrent updater created the row first.
				return result, customermeterdomain.ErrConcurrentUpdate
			}
			return result, err
		}
		return result, nil
	}

	won, err := s.repo.UpdateIfWatermark(ctx, tx, cm, expected)
	if err != nil {
		return result, err
	}
	if !won {
		return result, customermeterdomain.ErrConcurrentUpdate
	}
	return result, nil
}

// fold applies one event: credits and resets are matched by their explicit
// meter_id, everything else goes through the meter's filter and aggregation.
// Reports whether the event affected the balance.
func (s *Service) fold(
	cm *customermeterdomain.CustomerMeter,
	meter *meterdomain.Meter,
	acc meterdomain.Accumulator,
	e *eventdomain.Event,
) bool {
	if e.Source == eventdomain.EventSourceSystem {
		switch e.Name {
		case eventdomain.EventNameMeterCredited:
			if !meterdomain.IsCorrectionFor(e, meter.ID) {
				// Correction addressed to another meter; skip, not an error.
				return false
			}
			units := e.MetadataDecimal(eventdomain.MetadataKeyUnits)
			cm.CreditedUnits = cm.CreditedUnits.Add(units)
			return true
		case eventdomain.EventNameMeterReset:
			if !meterdomain.IsCorrectionFor(e, meter.ID) {
				return false
			}
			cm.ConsumedUnits = e.MetadataDecimal(eventdomain.MetadataKeyConsumedUnits)
			cm.CreditedUnits = e.MetadataDecimal(eventdomain.MetadataKeyCreditedUnits)
			return true
		}
	}

	if !meter.Filter.Matches(e) {
		return false
	}

	delta := acc.Fold(e)
	if delta.IsZero() {
		return false
	}
	cm.ConsumedUnits = cm.ConsumedUnits.Add(delta)
	return true
}

// distinctConsumed recomputes a unique meter's consumed units as the distinct
// count over the customer's indexed events up to the through id. Corrections
// in the index adjust balances, not measured usage, so they are excluded.
func (s *Service) distinctConsumed(
	ctx context.Context,
	tx *gorm.DB,
	org, custID snowflake.ID,
	meter *meterdomain.Meter,
	through snowflake.ID,
) (decimal.Decimal, error) {
	eventIDs, err := s.meterEventRepo.ListEventIDsForCustomer(ctx, tx, meter.ID, custID)
	if err != nil {
		return decimal.Zero, err
	}
	events, err := s.eventRepo.ListByIDs(ctx, tx, org, eventIDs)
	if err != nil {
		return decimal.Zero, err
	}

	acc := meter.Aggregation.NewAccumulator()
	total := decimal.Zero
	for i := range events {
		if events[i].ID > through {
			continue
		}
		if meterdomain.IsCorrectionFor(&events[i], meter.ID) {
			continue
		}
		total = total.Add(acc.Fold(&events[i]))
	}
	return total, nil
}

func (s *Service) Get(ctx context.Context, orgID, customerID, meterID string) (*customermeterdomain.CustomerMeter, error) {
	if _, err := parseID(orgID); err != nil {
		return nil, customermeterdomain.ErrInvalidOrganization
	}
	custID, err := parseID(customerID)
	if err != nil {
		return nil, customermeterdomain.ErrInvalidCustomer
	}
	mID, err := parseID(meterID)
	if err != nil {
		return nil, customermeterdomain.ErrInvalidMeter
	}

	cm, err := s.repo.Find(ctx, s.db, custID, mID)
	if err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, customermeterdomain.ErrNotFound
	}
	return cm, nil
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
