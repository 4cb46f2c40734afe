// Package scheduler drives the background pipeline: periodic index backfills
// and customer meter balance updates, paced by the hot-reloadable engine
// config so intervals can be tuned without a restart.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	customermeterdomain "github.com/smallbiznis/meterline/internal/customermeter/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	"github.com/smallbiznis/meterline/internal/meterevent/backfill"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Engine           *config.EngineConfigHolder
	MeterRepo        meterdomain.Repository
	MeterEventRepo   metereventdomain.Repository
	Backfill         *backfill.Worker
	CustomerMeterSvc customermeterdomain.Service
}

type Scheduler struct {
	db               *gorm.DB
	log              *zap.Logger
	clock            clock.Clock
	engine           *config.EngineConfigHolder
	meterRepo        meterdomain.Repository
	meterEventRepo   metereventdomain.Repository
	backfill         *backfill.Worker
	customerMeterSvc customermeterdomain.Service
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:               p.DB,
		log:              p.Log.Named("scheduler"),
		clock:            p.Clock,
		engine:           p.Engine,
		meterRepo:        p.MeterRepo,
		meterEventRepo:   p.MeterEventRepo,
		backfill:         p.Backfill,
		customerMeterSvc: p.CustomerMeterSvc,
	}
}

// RunForever runs both poll loops until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	go s.loop(ctx, "backfill", func() time.Duration { return s.engine.Get().BackfillPollInterval }, s.RunBackfillPass)
	s.loop(ctx, "updater", func() time.Duration { return s.engine.Get().UpdaterPollInterval }, s.RunUpdaterPass)
}

// loop re-reads its interval every cycle so config reloads take effect on the
// next tick.
func (s *Scheduler) loop(ctx context.Context, name string, interval func() time.Duration, pass func(context.Context) error) {
	for {
		if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduler pass failed",
				zap.String("pass", name),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval()):
		}
	}
}

// RunBackfillPass backfills the meter-event index for every organization with
// at least one active meter. A failing organization does not block the rest.
func (s *Scheduler) RunBackfillPass(ctx context.Context) error {
	orgs, err := s.meterRepo.ListOrgIDs(ctx, s.db)
	if err != nil {
		return err
	}

	var lastErr error
	for _, org := range orgs {
		if err := s.backfill.Run(ctx, org); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.log.Warn("backfill failed",
				zap.String("org_id", org.String()),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}

// RunUpdaterPass advances every (customer, meter) balance discovered in the
// meter-event index. Lost watermark races are skipped; a concurrent updater
// already did the work.
func (s *Scheduler) RunUpdaterPass(ctx context.Context) error {
	orgs, err := s.meterRepo.ListOrgIDs(ctx, s.db)
	if err != nil {
		return err
	}

	var lastErr error
	for _, org := range orgs {
		pairs, err := s.meterEventRepo.ListCustomerPairs(ctx, s.db, org)
		if err != nil {
			lastErr = err
			continue
		}
		for _, pair := range pairs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			_, err := s.customerMeterSvc.Update(ctx, org.String(), pair.CustomerID.String(), pair.MeterID.String())
			if err == nil {
				continue
			}
			if errors.Is(err, customermeterdomain.ErrConcurrentUpdate) {
				continue
			}
			s.log.Warn("customer meter update failed",
				zap.String("org_id", org.String()),
				zap.String("customer_id", pair.CustomerID.String()),
				zap.String("meter_id", pair.MeterID.String()),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}
