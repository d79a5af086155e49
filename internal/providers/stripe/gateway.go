package stripe

import (
	"context"
	"errors"
	"time"
)

// AccountMetadataKey is the metadata key stamped on processor customers so a
// processor-side record can be traced back to the local account that owns it.
const AccountMetadataKey = "substation_account_id"

var (
	ErrSignatureInvalid   = errors.New("signature_invalid")
	ErrCustomerNotFound   = errors.New("processor_customer_not_found")
	ErrExternalCall       = errors.New("processor_call_failed")
	ErrNoPaymentDue       = errors.New("no_payment_due")
	ErrPaymentDeclined    = errors.New("payment_declined")
	ErrSubscriptionClosed = errors.New("subscription_closed")
)

// Customer is the processor-side customer record, reduced to the fields the
// billing engine cares about.
type Customer struct {
	ID       string
	Name     string
	Email    string
	Metadata map[string]string
}

// Subscription is the processor-side subscription snapshot.
type Subscription struct {
	ID                string
	CustomerID        string
	PriceID           string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	LatestInvoiceOpen bool
}

// Card summarizes the payment method attached to a subscription. It is what
// gets persisted as cc_info on the customer row.
type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}

// Invoice is the processor-side invoice snapshot returned by a manual pay
// attempt.
type Invoice struct {
	ID        string
	Status    string
	Paid      bool
	PeriodEnd *time.Time
}

// CustomerFields carries the mutable processor customer fields. Nil pointers
// leave the corresponding field untouched; Metadata entries are merged.
type CustomerFields struct {
	Name     *string
	Email    *string
	Metadata map[string]string
}

// Gateway abstracts the payment processor. The real implementation talks to
// Stripe over stripe-go; the mock keeps everything in memory for development
// and tests.
type Gateway interface {
	CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (Customer, error)
	ModifyCustomer(ctx context.Context, customerID string, fields CustomerFields) error
	RetrieveCustomer(ctx context.Context, customerID string) (Customer, error)
	// FindCustomerByEmail returns (nil, nil) when no processor customer
	// carries the given email.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// CreateSubscription attaches the payment method to the customer and
	// opens a subscription for the given price.
	CreateSubscription(ctx context.Context, customerID, paymentMethodID, priceID string) (Subscription, Card, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	// CancelSubscription schedules cancellation at period end, or tears the
	// subscription down immediately when immediate is set.
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error
	// ReactivateSubscription clears a pending cancel-at-period-end flag.
	ReactivateSubscription(ctx context.Context, subscriptionID string) error
	// ReplacePaymentMethod attaches a new payment method and makes it the
	// subscription default.
	ReplacePaymentMethod(ctx context.Context, customerID, subscriptionID, paymentMethodID string) (Card, error)
	// RetryLatestOpenInvoice re-attempts payment of the newest open invoice
	// for the customer. Returns ErrNoPaymentDue when there is nothing open.
	RetryLatestOpenInvoice(ctx context.Context, customerID string) (Invoice, error)

	// VerifySignature validates a webhook payload against its signature
	// header. Returns ErrSignatureInvalid on any verification failure.
	VerifySignature(payload []byte, signatureHeader string) error
}
