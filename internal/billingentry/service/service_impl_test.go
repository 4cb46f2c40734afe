package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingentrydomain "github.com/smallbiznis/meterline/internal/billingentry/domain"
	billingentryrepository "github.com/smallbiznis/meterline/internal/billingentry/repository"
	"github.com/smallbiznis/meterline/internal/clock"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	eventrepository "github.com/smallbiznis/meterline/internal/event/repository"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	meterrepository "github.com/smallbiznis/meterline/internal/meter/repository"
	orderdomain "github.com/smallbiznis/meterline/internal/order/domain"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	pricerepository "github.com/smallbiznis/meterline/internal/price/repository"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db             *gorm.DB
	node           *snowflake.Node
	clock          *clock.FakeClock
	svc            billingentrydomain.Service
	repo           billingentrydomain.Repository
	meterRepo      meterdomain.Repository
	priceRepo      pricedomain.Repository
	eventRepo      eventdomain.Repository
	orgID          snowflake.ID
	customerID     snowflake.ID
	subscriptionID snowflake.ID
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
		&pricedomain.Price{},
		&billingentrydomain.BillingEntry{},
		&orderdomain.OrderItem{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	f := &fixture{
		db:             db,
		node:           node,
		clock:          clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		repo:           billingentryrepository.Provide(),
		meterRepo:      meterrepository.Provide(),
		priceRepo:      pricerepository.Provide(),
		eventRepo:      eventrepository.Provide(),
		orgID:          node.Generate(),
		customerID:     node.Generate(),
		subscriptionID: node.Generate(),
	}
	f.svc = New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     f.clock,
		Repo:      f.repo,
		PriceRepo: f.priceRepo,
		MeterRepo: f.meterRepo,
		EventRepo: f.eventRepo,
	})
	return f
}

func (f *fixture) createSumMeter(t *testing.T, name string) *meterdomain.Meter {
	t.Helper()
	m := &meterdomain.Meter{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		Name:        name,
		Filter:      meterdomain.MatchAll(),
		Aggregation: meterdomain.Aggregation{Func: meterdomain.AggregationSum, Property: "units"},
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := f.meterRepo.Insert(context.Background(), f.db, m); err != nil {
		t.Fatalf("insert meter: %v", err)
	}
	return m
}

func (f *fixture) createPrice(t *testing.T, meterID snowflake.ID, unitAmount int64, included, cap *int64) *pricedomain.Price {
	t.Helper()
	p := &pricedomain.Price{
		ID:              f.node.Generate(),
		OrgID:           f.orgID,
		ProductID:       f.node.Generate(),
		Type:            pricedomain.PriceTypeMetered,
		MeterID:         &meterID,
		UnitAmountCents: &unitAmount,
		IncludedUnits:   included,
		CapAmountCents:  cap,
		Active:          true,
	}
	if err := f.priceRepo.Insert(context.Background(), f.db, p); err != nil {
		t.Fatalf("insert price: %v", err)
	}
	return p
}

// accrue inserts one usage event plus its pending entry against the price.
func (f *fixture) accrue(t *testing.T, priceID snowflake.ID, units float64) {
	t.Helper()
	ctx := context.Background()
	e := &eventdomain.Event{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		CustomerID: &f.customerID,
		Name:       "api.request",
		Source:     eventdomain.EventSourceUser,
		Timestamp:  f.clock.Now(),
		IngestedAt: f.clock.Now(),
		Metadata:   datatypes.JSONMap{"units": units},
	}
	if err := f.eventRepo.Insert(ctx, f.db, e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	err := f.repo.InsertBatch(ctx, f.db, []billingentrydomain.BillingEntry{{
		ID:             f.node.Generate(),
		OrgID:          f.orgID,
		CustomerID:     f.customerID,
		SubscriptionID: f.subscriptionID,
		EventID:        e.ID,
		PriceID:        priceID,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}})
	if err != nil {
		t.Fatalf("insert entry: %v", err)
	}
}

func i64(v int64) *int64 { return &v }

func TestCreateOrderItemsBillsAboveIncludedUnits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	meter := f.createSumMeter(t, "tokens")
	price := f.createPrice(t, meter.ID, 100, i64(10), nil)

	for _, units := range []float64{20, 10, 10} {
		f.accrue(t, price.ID, units)
	}

	items, err := f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	if err != nil {
		t.Fatalf("create order items: %v", err)
	}
	if !assert.Len(t, items, 1) {
		return
	}

	item := items[0]
	// 40 units, 10 included, 100 cents each.
	assert.Equal(t, int64(3000), item.AmountCents)
	assert.Equal(t, int64(1), item.Quantity)
	assert.Equal(t, price.ID, item.PriceID)
	assert.Equal(t, "tokens (40 consumed units)", item.Label)
	assert.Equal(t, "40", item.Metadata[orderdomain.MetadataKeyUnits])
	assert.Equal(t, meter.ID.String(), item.Metadata[orderdomain.MetadataKeyMeterID])

	var entries []billingentrydomain.BillingEntry
	if err := f.db.Find(&entries).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	for _, entry := range entries {
		assert.True(t, entry.Consumed())
		assert.Equal(t, item.ID, *entry.OrderItemID)
	}

	// Everything consumed; a second run produces nothing.
	items, err = f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	assert.NoError(t, err)
	assert.Nil(t, items)
}

func TestCreateOrderItemsAppliesCap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	meter := f.createSumMeter(t, "tokens")
	price := f.createPrice(t, meter.ID, 100, nil, i64(2500))

	f.accrue(t, price.ID, 40)

	items, err := f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	if err != nil {
		t.Fatalf("create order items: %v", err)
	}
	if assert.Len(t, items, 1) {
		assert.Equal(t, int64(2500), items[0].AmountCents)
	}
}

func TestCreateOrderItemsGroupsByPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tokens := f.createSumMeter(t, "tokens")
	requests := f.createSumMeter(t, "requests")
	tokenPrice := f.createPrice(t, tokens.ID, 100, nil, nil)
	requestPrice := f.createPrice(t, requests.ID, 50, nil, nil)

	f.accrue(t, tokenPrice.ID, 10)
	f.accrue(t, requestPrice.ID, 4)
	f.accrue(t, tokenPrice.ID, 5)

	items, err := f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	if err != nil {
		t.Fatalf("create order items: %v", err)
	}
	if !assert.Len(t, items, 2) {
		return
	}

	byPrice := map[snowflake.ID]int64{}
	for _, item := range items {
		byPrice[item.PriceID] = item.AmountCents
	}
	assert.Equal(t, int64(1500), byPrice[tokenPrice.ID])
	assert.Equal(t, int64(200), byPrice[requestPrice.ID])
}

func TestCreateOrderItemsRejectsNonMeteredPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fixed := &pricedomain.Price{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		ProductID: f.node.Generate(),
		Type:      pricedomain.PriceTypeFixed,
		Active:    true,
	}
	if err := f.priceRepo.Insert(ctx, f.db, fixed); err != nil {
		t.Fatalf("insert price: %v", err)
	}
	f.accrue(t, fixed.ID, 10)

	_, err := f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	assert.ErrorIs(t, err, billingentrydomain.ErrNonMeteredPrice)

	// The failed transaction leaves every entry pending.
	pending, err := f.repo.ListPending(ctx, f.db, f.orgID, f.subscriptionID)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCreateOrderItemsNothingPending(t *testing.T) {
	f := setup(t)

	items, err := f.svc.CreateOrderItems(context.Background(), f.orgID.String(), f.subscriptionID.String())
	assert.NoError(t, err)
	assert.Nil(t, items)
}

func TestOrderItemsPagesWithCursor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	meter := f.createSumMeter(t, "tokens")
	price := f.createPrice(t, meter.ID, 100, nil, nil)
	requests := f.createSumMeter(t, "requests")
	requestPrice := f.createPrice(t, requests.ID, 50, nil, nil)

	f.accrue(t, price.ID, 10)
	f.accrue(t, requestPrice.ID, 4)
	f.accrue(t, price.ID, 5)

	created, err := f.svc.CreateOrderItems(ctx, f.orgID.String(), f.subscriptionID.String())
	if err != nil {
		t.Fatalf("create order items: %v", err)
	}
	assert.Len(t, created, 2)

	first, info, err := f.svc.OrderItems(ctx, f.orgID.String(), pagination.Pagination{PageSize: 1})
	if err != nil {
		t.Fatalf("list order items: %v", err)
	}
	assert.Len(t, first, 1)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)

	second, info, err := f.svc.OrderItems(ctx, f.orgID.String(), pagination.Pagination{
		PageSize:  1,
		PageToken: info.NextPageToken,
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if assert.Len(t, second, 1) {
		assert.Greater(t, int64(second[0].ID), int64(first[0].ID))
	}
	assert.False(t, info.HasMore)

	_, _, err = f.svc.OrderItems(ctx, f.orgID.String(), pagination.Pagination{PageToken: "%%%"})
	assert.ErrorIs(t, err, billingentrydomain.ErrInvalidPageToken)
}
