// Package domain defines product prices: metered usage prices and seat-based
// tiered prices. Amounts are integer minor currency units.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PriceType string

const (
	PriceTypeFixed     PriceType = "fixed"
	PriceTypeMetered   PriceType = "metered"
	PriceTypeSeatBased PriceType = "seat_based"
)

type Price struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Type      PriceType    `json:"type" gorm:"type:text;not null"`

	// Metered price configuration. Amount grows linearly with units above
	// IncludedUnits, capped at CapAmountCents when set.
	MeterID         *snowflake.ID `json:"meter_id,omitempty" gorm:"index"`
	UnitAmountCents *int64        `json:"unit_amount_cents,omitempty"`
	IncludedUnits   *int64        `json:"included_units,omitempty"`
	CapAmountCents  *int64        `json:"cap_amount_cents,omitempty"`

	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Price) TableName() string { return "product_prices" }

// Metered reports whether the price bills accumulated usage.
func (p *Price) Metered() bool { return p.Type == PriceTypeMetered }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Price) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Price, error)
	// ListActiveMetered returns the organization's active metered prices.
	ListActiveMetered(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Price, error)
	// CountActiveByMeter counts active prices referencing the meter, used to
	// guard meter archiving.
	CountActiveByMeter(ctx context.Context, db *gorm.DB, orgID, meterID snowflake.ID) (int64, error)

	ReplaceSeatTiers(ctx context.Context, db *gorm.DB, priceID snowflake.ID, tiers []SeatTier) error
	ListSeatTiers(ctx context.Context, db *gorm.DB, priceID snowflake.ID) ([]SeatTier, error)
}

var (
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrNotFound         = errors.New("price_not_found")
	ErrNotMetered       = errors.New("price_not_metered")
	ErrInvalidSeatTiers = errors.New("invalid_seat_tiers")
	ErrNoTierForSeats   = errors.New("no_tier_for_seat_count")
)
