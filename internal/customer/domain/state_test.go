package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

func TestDeriveState(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	plan := func(pt plandomain.PlanType) plandomain.Plan {
		return plandomain.Plan{Type: pt}
	}
	sub := func(status subscriptiondomain.Status, cancel bool) *subscriptiondomain.Record {
		return &subscriptiondomain.Record{
			SubscriptionID:    "sub_1",
			Status:            status,
			CancelAtPeriodEnd: cancel,
		}
	}

	tests := []struct {
		name      string
		plan      plandomain.Plan
		periodEnd *time.Time
		sub       *subscriptiondomain.Record
		want      State
	}{
		{
			name: "fresh default profile",
			plan: plan(plandomain.PlanTypeFreeDefault),
			want: StateFreeDefaultNew,
		},
		{
			name:      "missed cancellation webhook on paid plan",
			plan:      plan(plandomain.PlanTypePaidPublic),
			periodEnd: &past,
			sub:       sub(subscriptiondomain.StatusActive, true),
			want:      StateCanceledMissedWebhook,
		},
		{
			name:      "missed cancellation webhook on free private plan",
			plan:      plan(plandomain.PlanTypeFreePrivate),
			periodEnd: &past,
			sub:       sub(subscriptiondomain.StatusActive, true),
			want:      StateCanceledMissedWebhook,
		},
		{
			name:      "paying",
			plan:      plan(plandomain.PlanTypePaidPublic),
			periodEnd: &future,
			sub:       sub(subscriptiondomain.StatusActive, false),
			want:      StatePaidPaying,
		},
		{
			name:      "will cancel at period end",
			plan:      plan(plandomain.PlanTypePaidPrivate),
			periodEnd: &future,
			sub:       sub(subscriptiondomain.StatusActive, true),
			want:      StatePaidWillCancel,
		},
		{
			name: "free private without expiry",
			plan: plan(plandomain.PlanTypeFreePrivate),
			want: StateFreePrivateIndefinite,
		},
		{
			name:      "free private with future expiry",
			plan:      plan(plandomain.PlanTypeFreePrivate),
			periodEnd: &future,
			want:      StateFreePrivateWillExpire,
		},
		{
			name:      "free private lapsed",
			plan:      plan(plandomain.PlanTypeFreePrivate),
			periodEnd: &past,
			want:      StateFreePrivateExpired,
		},
		{
			name: "signup payment never completed",
			plan: plan(plandomain.PlanTypeFreeDefault),
			sub:  sub(subscriptiondomain.StatusIncomplete, false),
			want: StateIncompleteRequiresPayment,
		},
		{
			name:      "past due with lapsed period",
			plan:      plan(plandomain.PlanTypePaidPublic),
			periodEnd: &past,
			sub:       sub(subscriptiondomain.StatusPastDue, false),
			want:      StateFreePastDueRequiresPayment,
		},
		{
			name:      "past due inside period",
			plan:      plan(plandomain.PlanTypePaidPublic),
			periodEnd: &future,
			sub:       sub(subscriptiondomain.StatusPastDue, false),
			want:      StatePaidPastDueRequiresPayment,
		},
		{
			name:      "no matching combination",
			plan:      plan(plandomain.PlanTypePaidPublic),
			periodEnd: &past,
			sub:       sub(subscriptiondomain.StatusActive, false),
			want:      StateInvalid,
		},
		{
			name: "paid plan with no record at all",
			plan: plan(plandomain.PlanTypePaidPublic),
			want: StateInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveState(tc.plan, tc.periodEnd, tc.sub, now)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveStateBoundary(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	// A period ending exactly now still counts as paid time.
	end := now
	got := DeriveState(
		plandomain.Plan{Type: plandomain.PlanTypePaidPublic},
		&end,
		&subscriptiondomain.Record{Status: subscriptiondomain.StatusActive},
		now,
	)
	assert.Equal(t, StatePaidPaying, got)

	// One nanosecond past the boundary with a pending cancel is the
	// missed-webhook downgrade.
	got = DeriveState(
		plandomain.Plan{Type: plandomain.PlanTypePaidPublic},
		&end,
		&subscriptiondomain.Record{Status: subscriptiondomain.StatusActive, CancelAtPeriodEnd: true},
		now.Add(time.Nanosecond),
	)
	assert.Equal(t, StateCanceledMissedWebhook, got)
}
