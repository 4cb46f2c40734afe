package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists events and their closure rows. Insert is the only write;
// the store is append-only.
type Repository interface {
	// Insert writes the event plus its closure rows. It resolves root_id from
	// the parent; a missing parent demotes the event to its own root rather
	// than failing ingestion.
	Insert(ctx context.Context, db *gorm.DB, e *Event) error

	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Event, error)
	ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]Event, error)

	// ListPage returns events with id > afterID ordered by id, for keyset
	// paging that stays stable under concurrent inserts.
	ListPage(ctx context.Context, db *gorm.DB, orgID, afterID snowflake.ID, limit int) ([]Event, error)

	// ListForCustomerAfter returns a customer's events strictly after the
	// watermark id, ordered by id, bounded by limit.
	ListForCustomerAfter(ctx context.Context, db *gorm.DB, orgID, customerID, afterID snowflake.ID, limit int) ([]Event, error)

	// CountDescendants counts strict descendants via the closure index.
	CountDescendants(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int64, error)

	// ListAncestry returns the closure rows of an event ordered by depth,
	// starting at the self row.
	ListAncestry(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]EventClosure, error)
}
