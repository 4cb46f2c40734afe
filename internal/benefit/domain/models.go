// Package domain holds the benefit reference model. Benefit grants themselves
// are managed outside the engine; the engine only needs to know which benefits
// still reference a meter when guarding meter archival.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Benefit struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID     snowflake.ID   `json:"organization_id" gorm:"column:org_id;not null;index"`
	Type      string         `json:"type" gorm:"type:text;not null"`
	MeterID   *snowflake.ID  `json:"meter_id,omitempty" gorm:"index"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (Benefit) TableName() string { return "benefits" }
