package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/meterline/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *eventdomain.Event) error {
	if e.ParentID != nil {
		parent, err := r.FindByID(ctx, db, e.OrgID, *e.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			// Missing parent never hard-fails ingestion.
			e.ParentID = nil
			e.RootID = e.ID
		} else {
			e.RootID = parent.RootID
		}
	} else {
		e.RootID = e.ID
	}

	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return err
	}

	if e.ParentID != nil {
		// Copy every ancestor row of the parent, one level deeper.
		err := db.WithContext(ctx).Exec(
			`INSERT INTO event_closures (ancestor_id, descendant_id, depth)
			 SELECT ancestor_id, ?, depth + 1
			 FROM event_closures
			 WHERE descendant_id = ?`,
			e.ID,
			*e.ParentID,
		).Error
		if err != nil {
			return err
		}
	}

	return db.WithContext(ctx).Create(&eventdomain.EventClosure{
		AncestorID:   e.ID,
		DescendantID: e.ID,
		Depth:        0,
	}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*eventdomain.Event, error) {
	var event eventdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM events WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]eventdomain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var events []eventdomain.Event
	err := db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func (r *repo) ListPage(ctx context.Context, db *gorm.DB, orgID, afterID snowflake.ID, limit int) ([]eventdomain.Event, error) {
	var events []eventdomain.Event
	err := db.WithContext(ctx).
		Where("org_id = ? AND id > ?", orgID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *repo) ListForCustomerAfter(ctx context.Context, db *gorm.DB, orgID, customerID, afterID snowflake.ID, limit int) ([]eventdomain.Event, error) {
	var events []eventdomain.Event
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ? AND id > ?", orgID, customerID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *repo) CountDescendants(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&eventdomain.EventClosure{}).
		Where("ancestor_id = ? AND depth > 0", eventID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListAncestry(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]eventdomain.EventClosure, error) {
	var rows []eventdomain.EventClosure
	err := db.WithContext(ctx).
		Where("descendant_id = ?", eventID).
		Order("depth ASC").
		Find(&rows).Error
	return rows, err
}
