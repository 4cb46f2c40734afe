package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	benefitdomain "github.com/smallbiznis/meterline/internal/benefit/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/smallbiznis/meterline/pkg/repository"
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
	Repo           meterdomain.Repository
	EventRepo      eventdomain.Repository
	MeterEventRepo metereventdomain.Repository
	PriceRepo      pricedomain.Repository
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           meterdomain.Repository
	eventRepo      eventdomain.Repository
	meterEventRepo metereventdomain.Repository
	priceRepo      pricedomain.Repository
	benefitRepo    repository.Repository[benefitdomain.Benefit]
}

func New(p Params) meterdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("meter.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		eventRepo:      p.EventRepo,
		meterEventRepo: p.MeterEventRepo,
		priceRepo:      p.PriceRepo,
		benefitRepo:    repository.ProvideStore[benefitdomain.Benefit](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req meterdomain.CreateRequest) (*meterdomain.Meter, error) {
	orgID, err := parseID(req.OrganizationID)
	if err != nil {
		return nil, meterdomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, meterdomain.ErrInvalidName
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	if err := req.Aggregation.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entity := &meterdomain.Meter{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Name:        name,
		Filter:      req.Filter,
		Aggregation: req.Aggregation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Metadata != nil {
		entity.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, entity); err != nil {
		return nil, err
	}

	return entity, nil
}

func (s *Service) Update(ctx context.Context, req meterdomain.UpdateRequest) (*meterdomain.Meter, error) {
	orgID, err := parseID(req.OrganizationID)
	if err != nil {
		return nil, meterdomain.ErrInvalidOrganization
	}
	meterID, err := parseID(req.ID)
	if err != nil {
		return nil, meterdomain.ErrInvalidID
	}

	entity, err := s.repo.FindByID(ctx, s.db, orgID, meterID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, meterdomain.ErrNotFound
	}
	if entity.Archived() {
		return nil, meterdomain.ErrArchived
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, meterdomain.ErrInvalidName
		}
		entity.Name = name
	}
	if req.Metadata != nil {
		entity.Metadata = datatypes.JSONMap(req.Metadata)
	}
	entity.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *Service) Get(ctx context.Context, orgID, id string) (*meterdomain.Meter, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, meterdomain.ErrInvalidOrganization
	}
	meterID, err := parseID(id)
	if err != nil {
		return nil, meterdomain.ErrInvalidID
	}
	entity, err := s.repo.FindByID(ctx, s.db, org, meterID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, meterdomain.ErrNotFound
	}
	return entity, nil
}

func (s *Service) List(ctx context.Context, orgID string, page pagination.Pagination) ([]meterdomain.Meter, *pagination.PageInfo, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, nil, meterdomain.ErrInvalidOrganization
	}

	limit := page.PageSize
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var afterID snowflake.ID
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, meterdomain.ErrInvalidPageToken
		}
		afterID, err = parseID(cursor.ID)
		if err != nil {
			return nil, nil, meterdomain.ErrInvalidPageToken
		}
	}

	// Fetch one extra row to learn whether another page exists.
	meters, err := s.repo.List(ctx, s.db, org, afterID, limit+1)
	if err != nil {
		return nil, nil, err
	}

	info := &pagination.PageInfo{}
	if len(meters) > limit {
		meters = meters[:limit]
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: meters[len(meters)-1].ID.String()})
		if err != nil {
			return nil, nil, err
		}
		info.HasMore = true
		info.NextPageToken = token
	}
	return meters, info, nil
}

func (s *Service) Archive(ctx context.Context, orgID, id string) (*meterdomain.Meter, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, meterdomain.ErrInvalidOrganization
	}
	meterID, err := parseID(id)
	if err != nil {
		return nil, meterdomain.ErrInvalidID
	}

	entity, err := s.repo.FindByID(ctx, s.db, org, meterID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, meterdomain.ErrNotFound
	}
	if entity.Archived() {
		return entity, nil
	}

	priceRefs, err := s.priceRepo.CountActiveByMeter(ctx, s.db, org, meterID)
	if err != nil {
		return nil, err
	}
	if priceRefs > 0 {
		return nil, meterdomain.ErrStillReferenced
	}
	benefitRefs, err := s.benefitRepo.Count(ctx, &benefitdomain.Benefit{OrgID: org, MeterID: &meterID})
	if err != nil {
		return nil, err
	}
	if benefitRefs > 0 {
		return nil, meterdomain.ErrStillReferenced
	}

	now := s.clock.Now()
	entity.ArchivedAt = &now
	entity.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, entity); err != nil {
		return nil, err
	}

	s.log.Info("meter archived",
		zap.String("org_id", org.String()),
		zap.String("meter_id", meterID.String()),
	)
	return entity, nil
}

// Quantity aggregates the meter over a customer's indexed events. System
// corrections in the index are excluded: they adjust balances, not measured
// usage.
func (s *Service) Quantity(ctx context.Context, orgID, meterID, customerID string) (decimal.Decimal, error) {
	org, err := parseID(orgID)
	if err != nil {
		return decimal.Zero, meterdomain.ErrInvalidOrganization
	}
	mID, err := parseID(meterID)
	if err != nil {
		return decimal.Zero, meterdomain.ErrInvalidID
	}
	custID, err := parseID(customerID)
	if err != nil {
		return decimal.Zero, meterdomain.ErrInvalidID
	}

	entity, err := s.repo.FindByID(ctx, s.db, org, mID)
	if err != nil {
		return decimal.Zero, err
	}
	if entity == nil {
		return decimal.Zero, meterdomain.ErrNotFound
	}

	eventIDs, err := s.meterEventRepo.ListEventIDsForCustomer(ctx, s.db, mID, custID)
	if err != nil {
		return decimal.Zero, err
	}
	events, err := s.eventRepo.ListByIDs(ctx, s.db, org, eventIDs)
	if err != nil {
		return decimal.Zero, err
	}

	acc := entity.Aggregation.NewAccumulator()
	total := decimal.Zero
	for i := range events {
		if meterdomain.IsCorrectionFor(&events[i], mID) {
			continue
		}
		total = total.Add(acc.Fold(&events[i]))
	}
	return total, nil
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
