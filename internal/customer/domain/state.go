package domain

import (
	"time"

	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

// State is the derived entitlement state of a billing profile. It is computed
// fresh on every read and never persisted, so time-based transitions (expiry,
// the missed-webhook fallback) need no reconciliation pass.
type State string

const (
	StateFreeDefaultNew             State = "free_default.new"
	StateCanceledMissedWebhook      State = "free_default.canceled.missed_webhook"
	StatePaidPaying                 State = "paid.paying"
	StatePaidWillCancel             State = "paid.will_cancel"
	StateFreePrivateIndefinite      State = "free_private.indefinite"
	StateFreePrivateWillExpire      State = "free_private.will_expire"
	StateFreePrivateExpired         State = "free_private.expired"
	StateIncompleteRequiresPayment  State = "free_default.incomplete.requires_payment_method"
	StateFreePastDueRequiresPayment State = "free_default.past_due.requires_payment_method"
	StatePaidPastDueRequiresPayment State = "paid.past_due.requires_payment_method"
	StateInvalid                    State = "invalid"
)

// DeriveState computes the profile state from the stored plan, the stored
// period end, and the canonical subscription record (nil when none resolves).
// Cases are disjoint and ordered; first match wins. The boundary rule is that
// a period end exactly equal to now still counts as paid time.
//
// StateInvalid must never be reachable through the event processor; its
// appearance means an invariant was corrupted and the caller is expected to
// log it.
func DeriveState(plan plandomain.Plan, periodEnd *time.Time, sub *subscriptiondomain.Record, now time.Time) State {
	expired := periodEnd != nil && periodEnd.Before(now)
	inPeriod := periodEnd != nil && !periodEnd.Before(now)

	// Fresh profile on the default free plan.
	if plan.Type == plandomain.PlanTypeFreeDefault && periodEnd == nil && sub == nil {
		return StateFreeDefaultNew
	}

	// The cancellation confirmation never arrived, but the paid period has
	// lapsed: pessimistically treat the account as canceled rather than let
	// it look paying forever.
	if plan.Type != plandomain.PlanTypeFreeDefault && expired &&
		sub != nil && sub.Status == subscriptiondomain.StatusActive && sub.CancelAtPeriodEnd {
		return StateCanceledMissedWebhook
	}

	if plan.Type.Paid() && inPeriod && sub != nil && sub.Status == subscriptiondomain.StatusActive {
		if sub.CancelAtPeriodEnd {
			return StatePaidWillCancel
		}
		return StatePaidPaying
	}

	if plan.Type == plandomain.PlanTypeFreePrivate && sub == nil {
		switch {
		case periodEnd == nil:
			return StateFreePrivateIndefinite
		case inPeriod:
			return StateFreePrivateWillExpire
		default:
			return StateFreePrivateExpired
		}
	}

	// Initial signup whose payment never went through: the profile still
	// carries the default plan and the record is stuck incomplete.
	if plan.Type == plandomain.PlanTypeFreeDefault && periodEnd == nil &&
		sub != nil && sub.Status == subscriptiondomain.StatusIncomplete {
		return StateIncompleteRequiresPayment
	}

	if plan.Type.Paid() && sub != nil && sub.Status == subscriptiondomain.StatusPastDue {
		if expired {
			// The processor is still retrying but the paid time has lapsed;
			// entitlement is already gone.
			return StateFreePastDueRequiresPayment
		}
		if inPeriod {
			return StatePaidPastDueRequiresPayment
		}
	}

	return StateInvalid
}
