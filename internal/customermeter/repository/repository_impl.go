package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	customermeterdomain "github.com/smallbiznis/meterline/internal/customermeter/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() customermeterdomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, customerID, meterID snowflake.ID) (*customermeterdomain.CustomerMeter, error) {
	var cm customermeterdomain.CustomerMeter
	err := db.WithContext(ctx).
		Where("customer_id = ? AND meter_id = ?", customerID, meterID).
		Limit(1).
		Find(&cm).Error
	if err != nil {
		return nil, err
	}
	if cm.ID == 0 {
		return nil, nil
	}
	return &cm, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cm *customermeterdomain.CustomerMeter) error {
	return db.WithContext(ctx).Create(cm).Error
}

func (r *repo) UpdateIfWatermark(ctx context.Context, db *gorm.DB, cm *customermeterdomain.CustomerMeter, expected snowflake.ID) (bool, error) {
	stmt := db.WithContext(ctx).
		Model(&customermeterdomain.CustomerMeter{}).
		Where("id = ?", cm.ID)
	if expected == 0 {
		stmt = stmt.Where("last_balanced_event_id IS NULL")
	} else {
		stmt = stmt.Where("last_balanced_event_id = ?", expected)
	}

	result := stmt.Updates(map[string]any{
		"consumed_units":         cm.ConsumedUnits,
		"credited_units":         cm.CreditedUnits,
		"balance":                cm.Balance,
		"last_balanced_event_id": cm.LastBalancedEventID,
		"updated_at":             cm.UpdatedAt,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
