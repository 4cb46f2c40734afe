package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
)

type CreateRequest struct {
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	Filter         Filter         `json:"filter"`
	Aggregation    Aggregation    `json:"aggregation"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type UpdateRequest struct {
	OrganizationID string         `json:"organization_id"`
	ID             string         `json:"id"`
	Name           *string        `json:"name,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	Create(context.Context, CreateRequest) (*Meter, error)
	// Update touches name and metadata only; filter and aggregation are
	// immutable once created.
	Update(context.Context, UpdateRequest) (*Meter, error)
	Get(ctx context.Context, orgID, id string) (*Meter, error)
	List(ctx context.Context, orgID string, page pagination.Pagination) ([]Meter, *pagination.PageInfo, error)
	// Archive soft-archives a meter. It fails while any active price or
	// non-deleted benefit still references the meter.
	Archive(ctx context.Context, orgID, id string) (*Meter, error)
	// Quantity aggregates the meter over a customer's indexed events.
	Quantity(ctx context.Context, orgID, meterID, customerID string) (decimal.Decimal, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidFilter       = errors.New("invalid_filter")
	ErrInvalidAggregation  = errors.New("invalid_aggregation")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("meter_not_found")
	ErrArchived            = errors.New("meter_archived")
	ErrStillReferenced     = errors.New("meter_still_referenced")
)
