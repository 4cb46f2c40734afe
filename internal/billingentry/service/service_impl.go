package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingentrydomain "github.com/smallbiznis/meterline/internal/billingentry/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/meterline/internal/order/domain"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	"github.com/smallbiznis/meterline/pkg/db/option"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      billingentrydomain.Repository
	PriceRepo pricedomain.Repository
	MeterRepo meterdomain.Repository
	EventRepo eventdomain.Repository
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      billingentrydomain.Repository
	priceRepo pricedomain.Repository
	meterRepo meterdomain.Repository
	eventRepo eventdomain.Repository
	orderRepo repository.Repository[orderdomain.OrderItem]
	metrics   *metrics.Metrics
}

func New(p Params) billingentrydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billingentry.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		priceRepo: p.PriceRepo,
		meterRepo: p.MeterRepo,
		eventRepo: p.EventRepo,
		orderRepo: repository.ProvideStore[orderdomain.OrderItem](p.DB),
		metrics:   p.Metrics,
	}
}

// CreateOrderItems consumes all pending entries of a subscription, one order
// item per metered price. Units come from the meter's aggregation over the
// exact event set the entries reference, not from a time-window scan.
func (s *Service) CreateOrderItems(ctx context.Context, orgID, subscriptionID string) ([]orderdomain.OrderItem, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, billingentrydomain.ErrInvalidOrganization
	}
	subID, err := parseID(subscriptionID)
	if err != nil {
		return nil, billingentrydomain.ErrInvalidSubscription
	}

	entries, err := s.repo.ListPending(ctx, s.db, org, subID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	byPrice := groupByPrice(entries)

	var items []orderdomain.OrderItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, group := range byPrice {
			item, err := s.billPrice(ctx, tx, org, group)
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for range items {
		s.metrics.RecordOrderItemCreated(ctx)
	}
	return items, nil
}

func (s *Service) OrderItems(ctx context.Context, orgID string, page pagination.Pagination) ([]*orderdomain.OrderItem, *pagination.PageInfo, error) {
	org, err := parseID(orgID)
	if err != nil {
		return nil, nil, billingentrydomain.ErrInvalidOrganization
	}

	limit := page.PageSize
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	// Fetch one extra row to learn whether another page exists.
	opts := []option.QueryOption{
		option.WithOrder("id ASC"),
		option.WithLimit(limit + 1),
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, billingentrydomain.ErrInvalidPageToken
		}
		afterID, err := parseID(cursor.ID)
		if err != nil {
			return nil, nil, billingentrydomain.ErrInvalidPageToken
		}
		opts = append(opts, option.WithCondition("id > ?", afterID))
	}

	items, err := s.orderRepo.Find(ctx, &orderdomain.OrderItem{OrgID: org}, opts...)
	if err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(items, int32(limit), func(item *orderdomain.OrderItem) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, info, nil
}

type priceGroup struct {
	priceID snowflake.ID
	entries []billingentrydomain.BillingEntry
}

// groupByPrice preserves the ascending price order of ListPending.
func groupByPrice(entries []billingentrydomain.BillingEntry) []priceGroup {
	var groups []priceGroup
	for _, entry := range entries {
		if len(groups) == 0 || groups[len(groups)-1].priceID != entry.PriceID {
			groups = append(groups, priceGroup{priceID: entry.PriceID})
		}
		last := &groups[len(groups)-1]
		last.entries = append(last.entries, entry)
	}
	return groups
}

func (s *Service) billPrice(ctx context.Context, tx *gorm.DB, org snowflake.ID, group priceGroup) (*orderdomain.OrderItem, error) {
	price, err := s.priceRepo.FindByID(ctx, tx, org, group.priceID)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, fmt.Errorf("%w: price %s", pricedomain.ErrNotFound, group.priceID)
	}
	if !price.Metered() || price.MeterID == nil {
		return nil, fmt.Errorf("%w: price %s", billingentrydomain.ErrNonMeteredPrice, price.ID)
	}

	meter, err := s.meterRepo.FindByID(ctx, tx, org, *price.MeterID)
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, fmt.Errorf("%w: meter %s", meterdomain.ErrNotFound, *price.MeterID)
	}

	eventIDs := make([]snowflake.ID, 0, len(group.entries))
	for _, entry := range group.entries {
		eventIDs = append(eventIDs, entry.EventID)
	}
	events, err := s.eventRepo.ListByIDs(ctx, tx, org, eventIDs)
	if err != nil {
		return nil, err
	}

	units := meter.Aggregation.Aggregate(events)
	amount := meteredAmount(price, units)

	item := &orderdomain.OrderItem{
		ID:          s.genID.Generate(),
		OrgID:       org,
		Label:       meteredLabel(meter.Name, units),
		AmountCents: amount,
		Quantity:    1,
		PriceID:     price.ID,
		CreatedAt:   s.clock.Now(),
	}
	item.Metadata = datatypes.JSONMap{
		orderdomain.MetadataKeyOrderItemID:   item.ID.String(),
		orderdomain.MetadataKeyPriceID:       price.ID.String(),
		orderdomain.MetadataKeyMeterID:       price.MeterID.String(),
		orderdomain.MetadataKeyUnits:         units.String(),
		orderdomain.MetadataKeyIncludedUnits: valueOrZero(price.IncludedUnits),
		orderdomain.MetadataKeyUnitAmount:    valueOrZero(price.UnitAmountCents),
		orderdomain.MetadataKeyCapAmount:     capOrNil(price.CapAmountCents),
	}

	if err := s.orderRepo.WithTrx(tx).Create(ctx, item); err != nil {
		return nil, err
	}

	entryIDs := make([]snowflake.ID, 0, len(group.entries))
	for _, entry := range group.entries {
		entryIDs = append(entryIDs, entry.ID)
	}
	if err := s.repo.AssignOrderItem(ctx, tx, entryIDs, item.ID, s.clock.Now()); err != nil {
		return nil, err
	}

	s.log.Info("order item created",
		zap.String("price_id", price.ID.String()),
		zap.String("units", units.String()),
		zap.Int64("amount_cents", amount),
		zap.Int("entries", len(group.entries)),
	)
	return item, nil
}

// meteredAmount grows linearly with units above the included allowance,
// capped at the configured maximum.
func meteredAmount(price *pricedomain.Price, units decimal.Decimal) int64 {
	var unitAmount int64
	if price.UnitAmountCents != nil {
		unitAmount = *price.UnitAmountCents
	}

	billable := units
	if price.IncludedUnits != nil {
		billable = billable.Sub(decimal.NewFromInt(*price.IncludedUnits))
	}
	if billable.IsNegative() {
		billable = decimal.Zero
	}

	amount := decimal.NewFromInt(unitAmount).Mul(billable).Round(0).IntPart()
	if price.CapAmountCents != nil && amount > *price.CapAmountCents {
		amount = *price.CapAmountCents
	}
	return amount
}

func meteredLabel(meterName string, units decimal.Decimal) string {
	return fmt.Sprintf("%s (%s consumed units)", meterName, units.String())
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func capOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
