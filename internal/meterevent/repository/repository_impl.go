package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	metereventdomain "github.com/smallbiznis/meterline/internal/meterevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() metereventdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertBatch(ctx context.Context, db *gorm.DB, rows []metereventdomain.MeterEvent) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, meterID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&metereventdomain.MeterEvent{}).
		Where("meter_id = ?", meterID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListEventIDsForCustomer(ctx context.Context, db *gorm.DB, meterID, customerID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&metereventdomain.MeterEvent{}).
		Where("meter_id = ? AND customer_id = ?", meterID, customerID).
		Order("event_id ASC").
		Pluck("event_id", &ids).Error
	return ids, err
}

func (r *repo) ListCustomerPairs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]metereventdomain.CustomerPair, error) {
	var pairs []metereventdomain.CustomerPair
	err := db.WithContext(ctx).
		Model(&metereventdomain.MeterEvent{}).
		Where("org_id = ? AND customer_id IS NOT NULL", orgID).
		Distinct("customer_id", "meter_id").
		Order("customer_id ASC").
		Find(&pairs).Error
	return pairs, err
}

func (r *repo) FindCursor(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*metereventdomain.BackfillCursor, error) {
	var cursor metereventdomain.BackfillCursor
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Limit(1).
		Find(&cursor).Error
	if err != nil {
		return nil, err
	}
	if cursor.OrgID == 0 {
		return nil, nil
	}
	return &cursor, nil
}

func (r *repo) SaveCursor(ctx context.Context, db *gorm.DB, cursor *metereventdomain.BackfillCursor) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_event_id", "updated_at"}),
		}).
		Create(cursor).Error
}
