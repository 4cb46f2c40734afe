package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// UpsertBatch inserts membership rows, silently ignoring duplicates so
	// concurrent backfills and retries stay idempotent.
	UpsertBatch(ctx context.Context, db *gorm.DB, rows []MeterEvent) error

	Count(ctx context.Context, db *gorm.DB, meterID snowflake.ID) (int64, error)

	// ListEventIDsForCustomer returns the indexed event ids for one
	// (meter, customer) pair ordered by event id.
	ListEventIDsForCustomer(ctx context.Context, db *gorm.DB, meterID, customerID snowflake.ID) ([]snowflake.ID, error)

	// ListCustomerPairs returns the distinct (customer, meter) pairs with
	// indexed events in the organization.
	ListCustomerPairs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]CustomerPair, error)

	FindCursor(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*BackfillCursor, error)
	SaveCursor(ctx context.Context, db *gorm.DB, cursor *BackfillCursor) error
}
