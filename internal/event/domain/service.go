package domain

import (
	"context"
	"errors"
	"time"
)

// IngestRequest carries one event from the (external) ingestion layer.
type IngestRequest struct {
	OrganizationID     string         `json:"organization_id"`
	CustomerID         *string        `json:"customer_id,omitempty"`
	ExternalCustomerID *string        `json:"external_customer_id,omitempty"`
	Name               string         `json:"name"`
	Source             EventSource    `json:"source"`
	Timestamp          time.Time      `json:"timestamp"`
	ParentID           *string        `json:"parent_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`

	// SubscriptionID is resolved by the ingestion layer. When present, the
	// event accrues billing entries against matching metered prices.
	SubscriptionID *string `json:"subscription_id,omitempty"`
}

type Service interface {
	Ingest(context.Context, IngestRequest) (*Event, error)
	CountDescendants(ctx context.Context, orgID, eventID string) (int64, error)
	Ancestry(ctx context.Context, orgID, eventID string) ([]EventClosure, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidTimestamp    = errors.New("invalid_timestamp")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("event_not_found")
)
