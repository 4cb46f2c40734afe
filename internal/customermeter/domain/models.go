// Package domain defines the per (customer, meter) running balance.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerMeter is the incrementally maintained balance of one customer on
// one meter. LastBalancedEventID is the watermark: the most recent event
// folded in. Balance is derived and never negative.
type CustomerMeter struct {
	ID                  snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID               snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;index"`
	CustomerID          snowflake.ID    `json:"customer_id" gorm:"not null;uniqueIndex:ux_customer_meter,priority:1"`
	MeterID             snowflake.ID    `json:"meter_id" gorm:"not null;uniqueIndex:ux_customer_meter,priority:2"`
	ConsumedUnits       decimal.Decimal `json:"consumed_units" gorm:"type:numeric;not null"`
	CreditedUnits       decimal.Decimal `json:"credited_units" gorm:"type:numeric;not null"`
	Balance             decimal.Decimal `json:"balance" gorm:"type:numeric;not null"`
	LastBalancedEventID *snowflake.ID   `json:"last_balanced_event_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CustomerMeter) TableName() string { return "customer_meters" }

// Rebalance recomputes the derived balance, clamped at zero. Over-consumption
// is dropped, not tracked as overage.
func (cm *CustomerMeter) Rebalance() {
	balance := cm.CreditedUnits.Sub(cm.ConsumedUnits)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	cm.Balance = balance
}

// Watermark returns the last balanced event id, or zero when uninitialized.
func (cm *CustomerMeter) Watermark() snowflake.ID {
	if cm.LastBalancedEventID == nil {
		return 0
	}
	return *cm.LastBalancedEventID
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, customerID, meterID snowflake.ID) (*CustomerMeter, error)
	Insert(ctx context.Context, db *gorm.DB, cm *CustomerMeter) error
	// UpdateIfWatermark persists the row only if the stored watermark still
	// equals expected, reporting whether the write won. Losing the race means
	// a concurrent updater already folded these events.
	UpdateIfWatermark(ctx context.Context, db *gorm.DB, cm *CustomerMeter, expected snowflake.ID) (bool, error)
}

// UpdateResult reports what an incremental update did. Changed distinguishes
// "work done" from "nothing to do" without re-deriving it from the row.
type UpdateResult struct {
	CustomerMeter *CustomerMeter
	Changed       bool
	Processed     int
}

type Service interface {
	// Update folds all events past the watermark into the balance, one
	// bounded batch at a time.
	Update(ctx context.Context, orgID, customerID, meterID string) (UpdateResult, error)
	Get(ctx context.Context, orgID, customerID, meterID string) (*CustomerMeter, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidMeter        = errors.New("invalid_meter")
	ErrMeterNotFound       = errors.New("meter_not_found")
	ErrNotFound            = errors.New("customer_meter_not_found")
	// ErrConcurrentUpdate reports a lost watermark race; the caller may retry.
	ErrConcurrentUpdate = errors.New("concurrent_customer_meter_update")
)
