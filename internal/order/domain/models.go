// Package domain defines the order items produced for the external invoicing
// layer. Items are immutable once created.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderItem is one invoice line. Metadata carries the audit fields the
// external invoicing system attaches 1:1 to its own line item.
type OrderItem struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID          snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null;index"`
	Label          string            `json:"label" gorm:"type:text;not null"`
	AmountCents    int64             `json:"amount" gorm:"column:amount;not null"`
	TaxAmountCents int64             `json:"tax_amount" gorm:"column:tax_amount;not null;default:0"`
	Proration      bool              `json:"proration" gorm:"not null;default:false"`
	Quantity       int64             `json:"quantity" gorm:"not null;default:1"`
	PriceID        snowflake.ID      `json:"product_price_id" gorm:"not null;index"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrderItem) TableName() string { return "order_items" }

// Metadata keys attached for audit/reconciliation downstream.
const (
	MetadataKeyOrderItemID   = "order_item_id"
	MetadataKeyPriceID       = "product_price_id"
	MetadataKeyMeterID       = "meter_id"
	MetadataKeyUnits         = "units"
	MetadataKeyIncludedUnits = "included_units"
	MetadataKeyUnitAmount    = "unit_amount"
	MetadataKeyCapAmount     = "cap_amount"
)
