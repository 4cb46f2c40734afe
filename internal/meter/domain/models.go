// Package domain defines meters: a named binding of one filter and one
// aggregation, scoped to an organization.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Meter measures usage. Filter and Aggregation are immutable after creation:
// historical customer meter balances depend on their identity, so a change in
// semantics requires a new meter.
type Meter struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID       snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null;index"`
	Name        string            `json:"name" gorm:"type:text;not null"`
	Filter      Filter            `json:"filter" gorm:"type:jsonb;serializer:json"`
	Aggregation Aggregation       `json:"aggregation" gorm:"type:jsonb;serializer:json"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	ArchivedAt  *time.Time        `json:"archived_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Meter) TableName() string { return "meters" }

// Archived reports whether the meter has been soft-archived.
func (m *Meter) Archived() bool { return m.ArchivedAt != nil }
