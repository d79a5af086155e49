package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// UpsertRequest carries the processor-reported fields for one subscription.
// Re-delivery of the same payload must not create a second record.
type UpsertRequest struct {
	SubscriptionID    string
	CustomerRef       *snowflake.ID
	PriceID           string
	Status            Status
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// Service operates on subscription records. Methods take the database handle
// so callers can run them inside their own transaction boundary, mirroring
// how the event processor commits record, profile and ledger status together.
type Service interface {
	Upsert(ctx context.Context, db *gorm.DB, req UpsertRequest) (*Record, error)
	GetBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Record, error)

	// ResolveCurrent picks the canonical record for a customer: active beats
	// past_due beats most-recently-created. When the customer's plan is not
	// paid, canceled and incomplete_expired records are invisible entirely.
	ResolveCurrent(ctx context.Context, db *gorm.DB, customerRef snowflake.ID, planIsPaid bool) (*Record, error)

	// UpdateStatus mutates only the lifecycle status of a record.
	UpdateStatus(ctx context.Context, db *gorm.DB, subscriptionID string, status Status) (*Record, error)

	// UpdatePeriodEnd mutates only the billing period boundary of a record.
	UpdatePeriodEnd(ctx context.Context, db *gorm.DB, subscriptionID string, end *time.Time) (*Record, error)

	// UpdateCancelFlag mutates only the cancel-at-period-end flag.
	UpdateCancelFlag(ctx context.Context, db *gorm.DB, subscriptionID string, cancel bool) (*Record, error)

	// DetachCustomer clears the customer reference on every record owned by
	// the given customer, used when the owning account is hard-deleted.
	DetachCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID) error
}

var (
	ErrRecordNotFound    = errors.New("subscription_record_not_found")
	ErrInvalidStatus     = errors.New("invalid_subscription_status")
	ErrMissingExternalID = errors.New("missing_subscription_id")
)
