// Package domain contains the append-only event store models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventSource distinguishes customer-submitted events from engine corrections.
type EventSource string

const (
	EventSourceSystem EventSource = "system"
	EventSourceUser   EventSource = "user"
)

// System correction event names. Matched by name plus an explicit meter_id in
// metadata, never by a meter filter.
const (
	EventNameMeterCredited = "meter_credited"
	EventNameMeterReset    = "meter_reset"
)

// Metadata keys carried by system correction events.
const (
	MetadataKeyMeterID       = "meter_id"
	MetadataKeyUnits         = "units"
	MetadataKeyConsumedUnits = "consumed_units"
	MetadataKeyCreditedUnits = "credited_units"
)

// Event is an immutable usage fact. Rows are append-only: created once at
// ingestion, never updated or deleted.
type Event struct {
	ID                 snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID              snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null;index"`
	CustomerID         *snowflake.ID     `json:"customer_id,omitempty" gorm:"index"`
	ExternalCustomerID *string           `json:"external_customer_id,omitempty" gorm:"type:text"`
	Name               string            `json:"name" gorm:"type:text;not null"`
	Source             EventSource       `json:"source" gorm:"type:text;not null"`
	Timestamp          time.Time         `json:"timestamp" gorm:"not null"`
	IngestedAt         time.Time         `json:"ingested_at" gorm:"not null;index"`
	ParentID           *snowflake.ID     `json:"parent_id,omitempty"`
	RootID             snowflake.ID      `json:"root_id" gorm:"not null;index"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (Event) TableName() string { return "events" }

// IsRoot reports whether the event is the root of its hierarchy.
func (e *Event) IsRoot() bool { return e.RootID == e.ID }

// EventClosure records one reachable (ancestor, descendant) pair. Every event
// has exactly one self row at depth 0; each ancestor adds one row with depth
// equal to the distance. Rows are written atomically with the event insert.
type EventClosure struct {
	AncestorID   snowflake.ID `json:"ancestor_id" gorm:"primaryKey;autoIncrement:false"`
	DescendantID snowflake.ID `json:"descendant_id" gorm:"primaryKey;autoIncrement:false;index"`
	Depth        int          `json:"depth" gorm:"not null"`
}

func (EventClosure) TableName() string { return "event_closures" }
