package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *Meter) error
	Update(ctx context.Context, db *gorm.DB, m *Meter) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Meter, error)
	// ListActive returns the organization's non-archived meters.
	ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Meter, error)
	// List pages by meter id keyset, returning up to limit rows after afterID.
	List(ctx context.Context, db *gorm.DB, orgID, afterID snowflake.ID, limit int) ([]Meter, error)
	// ListOrgIDs returns every organization with at least one active meter.
	ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
