// Package domain defines the materialized meter-event membership index.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MeterEvent records that an event currently belongs to a meter: either its
// filter matched, or it is a system correction addressed to the meter. Rows
// are written with an idempotent insert and never updated.
type MeterEvent struct {
	MeterID            snowflake.ID  `json:"meter_id" gorm:"primaryKey;autoIncrement:false"`
	EventID            snowflake.ID  `json:"event_id" gorm:"primaryKey;autoIncrement:false"`
	OrgID              snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	CustomerID         *snowflake.ID `json:"customer_id,omitempty" gorm:"index"`
	ExternalCustomerID *string       `json:"external_customer_id,omitempty" gorm:"type:text"`
	Timestamp          time.Time     `json:"timestamp" gorm:"not null"`
	IngestedAt         time.Time     `json:"ingested_at" gorm:"not null"`
	CreatedAt          time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MeterEvent) TableName() string { return "meter_events" }

// CustomerPair is one (customer, meter) combination with indexed events,
// the unit of work for the periodic balance updater.
type CustomerPair struct {
	CustomerID snowflake.ID
	MeterID    snowflake.ID
}

// BackfillCursor tracks the last event indexed per organization, making the
// backfill resumable.
type BackfillCursor struct {
	OrgID       snowflake.ID `gorm:"primaryKey;autoIncrement:false;column:org_id"`
	LastEventID snowflake.ID `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BackfillCursor) TableName() string { return "meter_event_backfill_cursors" }
