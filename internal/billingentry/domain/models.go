// Package domain defines billing entries: accrued metered usage not yet
// materialized into an order item.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/meterline/internal/order/domain"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"gorm.io/gorm"
)

// BillingEntry ties one event to one metered product price. Entries are never
// deleted; consumption is marked by assigning an order item id.
type BillingEntry struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrgID          snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	CustomerID     snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	SubscriptionID snowflake.ID  `json:"subscription_id" gorm:"not null;index"`
	EventID        snowflake.ID  `json:"event_id" gorm:"not null;index"`
	PriceID        snowflake.ID  `json:"price_id" gorm:"not null;index"`
	OrderItemID    *snowflake.ID `json:"order_item_id,omitempty" gorm:"index"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingEntry) TableName() string { return "billing_entries" }

// Consumed reports whether the entry has been folded into an order item.
func (e *BillingEntry) Consumed() bool { return e.OrderItemID != nil }

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, entries []BillingEntry) error
	// ListPending returns unconsumed entries for a subscription ordered by
	// price then event id.
	ListPending(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]BillingEntry, error)
	// AssignOrderItem marks entries consumed. Decoupled from order item
	// persistence so the item need not exist before its entries are updated.
	AssignOrderItem(ctx context.Context, db *gorm.DB, entryIDs []snowflake.ID, orderItemID snowflake.ID, at time.Time) error
}

// Service turns accumulated billing entries into invoice-ready order items.
type Service interface {
	CreateOrderItems(ctx context.Context, orgID, subscriptionID string) ([]orderdomain.OrderItem, error)
	// OrderItems lists the organization's emitted order items, oldest first,
	// with opaque cursor paging.
	OrderItems(ctx context.Context, orgID string, page pagination.Pagination) ([]*orderdomain.OrderItem, *pagination.PageInfo, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	// ErrNonMeteredPrice marks a programming error: a non-metered price
	// routed into the metered billing path.
	ErrNonMeteredPrice = errors.New("non_metered_price_in_metered_path")
)
