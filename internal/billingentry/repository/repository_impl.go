package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingentrydomain "github.com/smallbiznis/meterline/internal/billingentry/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() billingentrydomain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, entries []billingentrydomain.BillingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&entries).Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) ([]billingentrydomain.BillingEntry, error) {
	var entries []billingentrydomain.BillingEntry
	err := db.WithContext(ctx).
		Where("org_id = ? AND subscription_id = ? AND order_item_id IS NULL", orgID, subscriptionID).
		Order("price_id ASC, event_id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repo) AssignOrderItem(ctx context.Context, db *gorm.DB, entryIDs []snowflake.ID, orderItemID snowflake.ID, at time.Time) error {
	if len(entryIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&billingentrydomain.BillingEntry{}).
		Where("id IN ?", entryIDs).
		Updates(map[string]any{
			"order_item_id": orderItemID,
			"updated_at":    at,
		}).Error
}
