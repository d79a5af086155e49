package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoicePayload(eventType, reason string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_001",
		"type": %q,
		"data": {
			"object": {
				"customer": "cus_001",
				"subscription": "sub_001",
				"billing_reason": %q,
				"lines": {
					"data": [
						{
							"price": {"id": "price_001"},
							"period": {"end": 1767225600}
						}
					]
				}
			}
		}
	}`, eventType, reason))
}

func subscriptionPayload(eventType, status string, cancel bool, previous string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_002",
		"type": %q,
		"data": {
			"object": {
				"id": "sub_001",
				"customer": "cus_001",
				"status": %q,
				"cancel_at_period_end": %t,
				"plan": {"id": "price_001"},
				"items": {
					"data": [
						{"price": {"id": "price_001"}, "current_period_end": 1767225600}
					]
				}
			},
			"previous_attributes": %s
		}
	}`, eventType, status, cancel, previous))
}

func TestClassifyInvoice(t *testing.T) {
	tests := []struct {
		name        string
		eventType   string
		reason      string
		wantType    Type
		wantPrimary bool
		wantState   string
	}{
		{"initial invoice paid", "invoice.paid", "subscription_create", TypeNewSub, true, "active"},
		{"initial invoice failed", "invoice.payment_failed", "subscription_create", TypeNewSub, true, "incomplete"},
		{"cycle invoice paid", "invoice.paid", "subscription_cycle", TypeRenewSub, true, "active"},
		{"cycle invoice failed", "invoice.payment_failed", "subscription_cycle", TypePaymentFail, true, "past_due"},
		{"manual invoice", "invoice.paid", "manual", TypeUnknown, false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, primary, info := Classify(invoicePayload(tc.eventType, tc.reason))
			assert.Equal(t, tc.wantType, typ)
			assert.Equal(t, tc.wantPrimary, primary)
			assert.Equal(t, tc.wantState, info.SubscriptionState)
			if tc.wantType != TypeUnknown {
				assert.Equal(t, "sub_001", info.SubscriptionID)
				assert.Equal(t, "cus_001", info.CustomerID)
				assert.Equal(t, "price_001", info.PriceID)
				require.NotNil(t, info.PeriodEnd)
				assert.Equal(t, time.Unix(1767225600, 0).UTC(), *info.PeriodEnd)
			}
		})
	}
}

func TestClassifySubscriptionUpdate(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		cancel      bool
		previous    string
		wantType    Type
		wantPrimary bool
	}{
		{
			name:        "cancel scheduled",
			status:      "active",
			cancel:      true,
			previous:    `{"cancel_at_period_end": false}`,
			wantType:    TypeCancelSub,
			wantPrimary: true,
		},
		{
			name:        "cancel revoked",
			status:      "active",
			cancel:      false,
			previous:    `{"cancel_at_period_end": true}`,
			wantType:    TypeReactivateSub,
			wantPrimary: true,
		},
		{
			name:        "billing cycle roll",
			status:      "active",
			previous:    `{"current_period_end": 1764547200, "current_period_start": 1761955200, "latest_invoice": "in_001"}`,
			wantType:    TypeRenewSub,
			wantPrimary: false,
		},
		{
			name:        "signup payment settled",
			status:      "active",
			previous:    `{"status": "incomplete"}`,
			wantType:    TypeNewSub,
			wantPrimary: false,
		},
		{
			name:        "renewal charge failed",
			status:      "past_due",
			previous:    `{"status": "active"}`,
			wantType:    TypePaymentFail,
			wantPrimary: false,
		},
		{
			name:        "delinquency cleared",
			status:      "active",
			previous:    `{"status": "past_due"}`,
			wantType:    TypePaymentFix,
			wantPrimary: false,
		},
		{
			name:        "card swapped while active",
			status:      "active",
			previous:    `{"default_payment_method": "pm_old"}`,
			wantType:    TypeUpdatePaymentMethod,
			wantPrimary: true,
		},
		{
			name:        "card added while past due",
			status:      "past_due",
			previous:    `{"default_payment_method": null}`,
			wantType:    TypePaymentFix,
			wantPrimary: true,
		},
		{
			name:        "card added while incomplete",
			status:      "incomplete",
			previous:    `{"default_payment_method": null}`,
			wantType:    TypePaymentFix,
			wantPrimary: true,
		},
		{
			name:        "unhandled attribute diff",
			status:      "active",
			previous:    `{"metadata": {"note": "x"}}`,
			wantType:    TypeUnknown,
			wantPrimary: false,
		},
		{
			name:        "cycle roll mixed with other keys",
			status:      "active",
			previous:    `{"current_period_end": 1764547200, "description": "old"}`,
			wantType:    TypeUnknown,
			wantPrimary: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := subscriptionPayload("customer.subscription.updated", tc.status, tc.cancel, tc.previous)
			typ, primary, info := Classify(body)
			assert.Equal(t, tc.wantType, typ)
			assert.Equal(t, tc.wantPrimary, primary)
			assert.Equal(t, "sub_001", info.SubscriptionID)
			assert.Equal(t, tc.status, info.SubscriptionState)
		})
	}
}

func TestClassifySubscriptionDeleted(t *testing.T) {
	body := subscriptionPayload("customer.subscription.deleted", "canceled", false, `{}`)
	typ, primary, info := Classify(body)
	assert.Equal(t, TypeDeleteSub, typ)
	assert.True(t, primary)
	assert.Equal(t, "sub_001", info.SubscriptionID)
	assert.Equal(t, "canceled", info.SubscriptionState)
}

func TestClassifyCancelDiffWinsOverStatus(t *testing.T) {
	// When a cancel flag flip and a status change arrive in one diff the
	// cancel flip decides the type.
	body := subscriptionPayload("customer.subscription.updated", "active", true,
		`{"cancel_at_period_end": false, "status": "incomplete"}`)
	typ, primary, _ := Classify(body)
	assert.Equal(t, TypeCancelSub, typ)
	assert.True(t, primary)
}

func TestClassifyUnknownPayloads(t *testing.T) {
	for _, body := range [][]byte{
		[]byte(`{"id": "evt_003", "type": "charge.succeeded", "data": {"object": {}}}`),
		[]byte(`not json`),
		subscriptionPayload("customer.subscription.updated", "active", false, `{}`),
	} {
		typ, primary, _ := Classify(body)
		assert.Equal(t, TypeUnknown, typ)
		assert.False(t, primary)
	}
}
