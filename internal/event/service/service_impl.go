package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingentrydomain "github.com/smallbiznis/meterline/internal/billingentry/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           eventdomain.Repository
	MeterRepo      meterdomain.Repository
	MeterEventRepo metereventdomain.Repository
	PriceRepo      pricedomain.Repository
	EntryRepo      billingentrydomain.Repository
	Metrics        *metrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           eventdomain.Repository
	meterRepo      meterdomain.Repository
	meterEventRepo metereventdomain.Repository
	priceRepo      pricedomain.Repository
	entryRepo      billingentrydomain.Repository
	metrics        *metrics.Metrics
}

func New(p Params) eventdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("event.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		meterRepo:      p.MeterRepo,
		meterEventRepo: p.MeterEventRepo,
		priceRepo:      p.PriceRepo,
		entryRepo:      p.EntryRepo,
		metrics:        p.Metrics,
	}
}

// Ingest appends one event: the fact row, its closure rows, the real-time
// meter-event index rows, and billing entries for matching metered prices,
// all in one transaction.
func (s *Service) Ingest(ctx context.Context, req eventdomain.IngestRequest) (*eventdomain.Event, error) {
	orgID, err := parseID(req.OrganizationID)
	if err != nil {
		return nil, eventdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, eventdomain.ErrInvalidName
	}
	switch req.Source {
	case eventdomain.EventSourceSystem, eventdomain.EventSourceUser:
	default:
		return nil, eventdomain.ErrInvalidSource
	}
	if req.Timestamp.IsZero() {
		return nil, eventdomain.ErrInvalidTimestamp
	}

	event := &eventdomain.Event{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		ExternalCustomerID: req.ExternalCustomerID,
		Name:               strings.TrimSpace(req.Name),
		Source:             req.Source,
		Timestamp:          req.Timestamp.UTC(),
		IngestedAt:         s.clock.Now(),
	}
	if req.CustomerID != nil {
		custID, err := parseID(*req.CustomerID)
		if err != nil {
			return nil, eventdomain.ErrInvalidCustomer
		}
		event.CustomerID = &custID
	}
	if req.ParentID != nil {
		parentID, err := parseID(*req.ParentID)
		if err != nil {
			return nil, eventdomain.ErrInvalidID
		}
		event.ParentID = &parentID
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	var subscriptionID *snowflake.ID
	if req.SubscriptionID != nil {
		subID, err := parseID(*req.SubscriptionID)
		if err != nil {
			return nil, eventdomain.ErrInvalidID
		}
		subscriptionID = &subID
	}

	hadParent := event.ParentID != nil

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, event); err != nil {
			return err
		}
		return s.index(ctx, tx, event, subscriptionID)
	})
	if err != nil {
		return nil, err
	}

	if hadParent && event.ParentID == nil {
		s.log.Warn("parent event not found, ingested as root",
			zap.String("event_id", event.ID.String()),
		)
	}

	s.metrics.RecordEventIngested(ctx, string(event.Source))
	return event, nil
}

// index is the real-time counterpart of the backfill: membership rows for
// every active meter of the organization, plus billing entry accrual.
func (s *Service) index(ctx context.Context, tx *gorm.DB, event *eventdomain.Event, subscriptionID *snowflake.ID) error {
	meters, err := s.meterRepo.ListActive(ctx, tx, event.OrgID)
	if err != nil {
		return err
	}

	var rows []metereventdomain.MeterEvent
	matched := make(map[snowflake.ID]bool, len(meters))
	for i := range meters {
		meter := &meters[i]
		if !meter.IncludesEvent(event) {
			continue
		}
		matched[meter.ID] = true
		rows = append(rows, metereventdomain.MeterEvent{
			MeterID:            meter.ID,
			EventID:            event.ID,
			OrgID:              event.OrgID,
			CustomerID:         event.CustomerID,
			ExternalCustomerID: event.ExternalCustomerID,
			Timestamp:          event.Timestamp,
			IngestedAt:         event.IngestedAt,
			CreatedAt:          s.clock.Now(),
		})
	}
	if err := s.meterEventRepo.UpsertBatch(ctx, tx, rows); err != nil {
		return err
	}
	s.metrics.RecordMeterEventsIndexed(ctx, len(rows))

	if subscriptionID == nil || event.CustomerID == nil || event.Source != eventdomain.EventSourceUser {
		return nil
	}

	prices, err := s.priceRepo.ListActiveMetered(ctx, tx, event.OrgID)
	if err != nil {
		return err
	}
	var entries []billingentrydomain.BillingEntry
	for i := range prices {
		price := &prices[i]
		if price.MeterID == nil || !matched[*price.MeterID] {
			continue
		}
		entries = append(entries, billingentrydomain.BillingEntry{
			ID:             s.genID.Generate(),
			OrgID:          event.OrgID,
			CustomerID:     *event.CustomerID,
			SubscriptionID: *subscriptionID,
			EventID:        event.ID,
			PriceID:        price.ID,
			CreatedAt:      s.clock.Now(),
			UpdatedAt:      s.clock.Now(),
		})
	}
	return s.entryRepo.InsertBatch(ctx, tx, entries)
}

func (s *Service) CountDescendants(ctx context.Context, orgID, eventID string) (int64, error) {
	org, err := parseID(orgID)
	if err != nil {
		return 0, eventdomain.ErrInvalidOrganization
	}
	id, err := parseID(eventID)
	if err != nil {
		return 0, eventdomain.ErrInvalidID
	}
	event, err := s.repo.FindByID(ctx, s.db, org, id)
	if err != nil {
		return 0, err
	}
	if event == nil {
		return 0, eventdomain.ErrNotFound
	}
	return s.repo.CountDescendants(ctx, s.db, id)
}

func (s *Service) Ancestry(ctx context.Context, orgID, eventID string) ([]eventdomain.EventClosure, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, eventdomain.ErrInvalidOrganization
	}
	id, err := parseID(eventID)
	if err != nil {
		return nil, eventdomain.ErrInvalidID
	}
	event, err := s.repo.FindByID(ctx, s.db, org, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, eventdomain.ErrNotFound
	}
	return s.repo.ListAncestry(ctx, s.db, id)
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
