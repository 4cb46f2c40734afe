package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&pricedomain.Price{}, &pricedomain.SeatTier{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func i64(v int64) *int64 { return &v }

func TestListActiveMetered(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	node := newNode(t)
	repo := Provide()
	orgID := node.Generate()
	meterID := node.Generate()

	metered := &pricedomain.Price{
		ID:              node.Generate(),
		OrgID:           orgID,
		ProductID:       node.Generate(),
		Type:            pricedomain.PriceTypeMetered,
		MeterID:         &meterID,
		UnitAmountCents: i64(100),
		Active:          true,
	}
	inactive := &pricedomain.Price{
		ID:              node.Generate(),
		OrgID:           orgID,
		ProductID:       node.Generate(),
		Type:            pricedomain.PriceTypeMetered,
		MeterID:         &meterID,
		UnitAmountCents: i64(100),
		Active:          false,
	}
	fixed := &pricedomain.Price{
		ID:        node.Generate(),
		OrgID:     orgID,
		ProductID: node.Generate(),
		Type:      pricedomain.PriceTypeFixed,
		Active:    true,
	}
	for _, p := range []*pricedomain.Price{metered, inactive, fixed} {
		if err := repo.Insert(ctx, db, p); err != nil {
			t.Fatalf("insert price: %v", err)
		}
	}

	prices, err := repo.ListActiveMetered(ctx, db, orgID)
	if err != nil {
		t.Fatalf("list active metered: %v", err)
	}
	if assert.Len(t, prices, 1) {
		assert.Equal(t, metered.ID, prices[0].ID)
	}

	count, err := repo.CountActiveByMeter(ctx, db, orgID, meterID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReplaceSeatTiers(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	node := newNode(t)
	repo := Provide()
	priceID := node.Generate()

	first := []pricedomain.SeatTier{
		{ID: node.Generate(), PriceID: priceID, MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(10000)},
		{ID: node.Generate(), PriceID: priceID, MinSeats: 11, PricePerSeatCents: i64(900)},
	}
	if err := pricedomain.ValidateSeatTiers(first); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := repo.ReplaceSeatTiers(ctx, db, priceID, first); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Replacement swaps the whole table for the price.
	second := []pricedomain.SeatTier{
		{ID: node.Generate(), PriceID: priceID, MinSeats: 1, PricePerSeatCents: i64(500)},
	}
	if err := repo.ReplaceSeatTiers(ctx, db, priceID, second); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	tiers, err := repo.ListSeatTiers(ctx, db, priceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if assert.Len(t, tiers, 1) {
		assert.Equal(t, second[0].ID, tiers[0].ID)
	}

	amount, err := pricedomain.CalculateSeatAmount(tiers, 8)
	assert.NoError(t, err)
	assert.Equal(t, int64(4000), amount)
}
