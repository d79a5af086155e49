package domain

import (
	"context"
	"errors"

	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

// StateView is what read paths get: the profile, the canonical record used
// for the derivation, and the derived state itself.
type StateView struct {
	Customer Customer
	Current  *subscriptiondomain.Record
	State    State
}

type CreateSubscriptionRequest struct {
	AccountID       string `json:"account_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

type Service interface {
	// EnsureForAccount is the onAccountSaved hook. It creates the billing
	// profile when absent (assigning the free_default plan, created on
	// demand), cascades name/email changes to the processor, and sets the
	// subscription to cancel at period end when the account was deactivated.
	EnsureForAccount(ctx context.Context, account Account) (Customer, error)

	// OnAccountHardDeleted force-cancels any active subscription at the
	// processor and detaches the subscription records from the profile so
	// they survive the account deletion.
	OnAccountHardDeleted(ctx context.Context, account Account) error

	GetByAccountID(ctx context.Context, accountID string) (Customer, error)
	GetByCustomerID(ctx context.Context, customerID string) (Customer, error)

	// GetState resolves the canonical record and derives the profile state
	// fresh, never from a cache.
	GetState(ctx context.Context, accountID string) (StateView, error)

	GetLimit(ctx context.Context, accountID, limitName string) (int64, error)

	// CreateSubscription is the synchronous signup path: create the
	// processor customer on first use, subscribe it to the public paid plan
	// and apply the resulting subscription immediately.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (StateView, error)

	// CancelSubscription asks the processor to cancel at period end. The
	// local flag follows via the cancellation webhook.
	CancelSubscription(ctx context.Context, accountID string) error

	// ReactivateSubscription clears cancel-at-period-end at the processor
	// for a not-yet-deleted subscription.
	ReactivateSubscription(ctx context.Context, accountID string) error

	ReplacePaymentMethod(ctx context.Context, accountID, paymentMethodID string) error
}

var (
	ErrInvalidAccountID     = errors.New("invalid_account_id")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrCustomerNotFound     = errors.New("customer_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAlreadySubscribed    = errors.New("already_subscribed")
	ErrNoPaidPlan           = errors.New("no_paid_plan_configured")
)
