package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/meterline/internal/meter/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() meterdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *meterdomain.Meter) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, m *meterdomain.Meter) error {
	return db.WithContext(ctx).
		Model(&meterdomain.Meter{}).
		Where("org_id = ? AND id = ?", m.OrgID, m.ID).
		Updates(map[string]any{
			"name":        m.Name,
			"metadata":    m.Metadata,
			"archived_at": m.ArchivedAt,
			"updated_at":  m.UpdatedAt,
		}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*meterdomain.Meter, error) {
	var meter meterdomain.Meter
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&meter).Error
	if err != nil {
		return nil, err
	}
	if meter.ID == 0 {
		return nil, nil
	}
	return &meter, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]meterdomain.Meter, error) {
	var meters []meterdomain.Meter
	err := db.WithContext(ctx).
		Where("org_id = ? AND archived_at IS NULL", orgID).
		Order("id ASC").
		Find(&meters).Error
	return meters, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID, afterID snowflake.ID, limit int) ([]meterdomain.Meter, error) {
	var meters []meterdomain.Meter
	err := db.WithContext(ctx).
		Where("org_id = ? AND id > ?", orgID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&meters).Error
	return meters, err
}

func (r *repo) ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&meterdomain.Meter{}).
		Where("archived_at IS NULL").
		Distinct("org_id").
		Order("org_id ASC").
		Pluck("org_id", &ids).Error
	return ids, err
}
