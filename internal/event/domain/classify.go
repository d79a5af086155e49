package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Info is the structured extraction the effect machinery works from. It is
// also persisted on the ledger row for audit.
type Info struct {
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	CustomerID        string     `json:"customer_id,omitempty"`
	PriceID           string     `json:"price_id,omitempty"`
	BillingReason     string     `json:"billing_reason,omitempty"`
	SubscriptionState string     `json:"subscription_state,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
}

// Fields renders the extraction for the jsonb ledger column.
func (i Info) Fields() datatypes.JSONMap {
	out := datatypes.JSONMap{}
	raw, err := json.Marshal(i)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, (*map[string]any)(&out))
	return out
}

// Stripe payload shapes, reduced to the fields classification needs. The
// verbatim body stays on the ledger row, so losing fields here costs nothing.

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object   json.RawMessage            `json:"object"`
		Previous map[string]json.RawMessage `json:"previous_attributes"`
	} `json:"data"`
}

type invoiceLine struct {
	Plan struct {
		ID string `json:"id"`
	} `json:"plan"`
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
	Period struct {
		End int64 `json:"end"`
	} `json:"period"`
}

type invoiceObject struct {
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Lines         struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type subscriptionObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Plan              struct {
		ID string `json:"id"`
	} `json:"plan"`
	Items struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

const (
	payloadInvoicePaid   = "invoice.paid"
	payloadInvoiceFailed = "invoice.payment_failed"
	payloadSubUpdated    = "customer.subscription.updated"
	payloadSubDeleted    = "customer.subscription.deleted"

	reasonCreate = "subscription_create"
	reasonCycle  = "subscription_cycle"
)

// renewalKeys is the previous_attributes shape of a pure billing-cycle roll:
// the authoritative renewal signal is the paid invoice, so this diff alone is
// informational.
var renewalKeys = map[string]struct{}{
	"current_period_end":   {},
	"current_period_start": {},
	"latest_invoice":       {},
}

// Classify maps a raw notification body to its semantic type, a primary
// flag, and the structured extraction. It never errors: anything it cannot
// place is TypeUnknown and the caller decides how loudly to complain.
func Classify(body []byte) (Type, bool, Info) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TypeUnknown, false, Info{}
	}

	switch env.Type {
	case payloadInvoicePaid, payloadInvoiceFailed:
		return classifyInvoice(env)
	case payloadSubUpdated:
		return classifySubscriptionUpdate(env)
	case payloadSubDeleted:
		sub, ok := parseSubscription(env.Data.Object)
		if !ok {
			return TypeUnknown, false, Info{}
		}
		return TypeDeleteSub, true, subscriptionInfo(sub)
	default:
		return TypeUnknown, false, Info{}
	}
}

func classifyInvoice(env envelope) (Type, bool, Info) {
	var inv invoiceObject
	if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
		return TypeUnknown, false, Info{}
	}

	info := Info{
		SubscriptionID: inv.Subscription,
		CustomerID:     inv.Customer,
		BillingReason:  inv.BillingReason,
	}
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		info.PriceID = line.Price.ID
		if info.PriceID == "" {
			info.PriceID = line.Plan.ID
		}
		if line.Period.End > 0 {
			end := time.Unix(line.Period.End, 0).UTC()
			info.PeriodEnd = &end
		}
	}

	paid := env.Type == payloadInvoicePaid
	switch inv.BillingReason {
	case reasonCreate:
		// An initial invoice, paid or not, is the birth of the
		// subscription; a failed one lands the record in incomplete.
		if paid {
			info.SubscriptionState = "active"
		} else {
			info.SubscriptionState = "incomplete"
		}
		return TypeNewSub, true, info
	case reasonCycle:
		if paid {
			info.SubscriptionState = "active"
			return TypeRenewSub, true, info
		}
		info.SubscriptionState = "past_due"
		return TypePaymentFail, true, info
	default:
		return TypeUnknown, false, info
	}
}

func classifySubscriptionUpdate(env envelope) (Type, bool, Info) {
	sub, ok := parseSubscription(env.Data.Object)
	if !ok {
		return TypeUnknown, false, Info{}
	}
	info := subscriptionInfo(sub)
	prev := env.Data.Previous

	if raw, ok := prev["cancel_at_period_end"]; ok {
		var was bool
		if json.Unmarshal(raw, &was) == nil {
			if !was && sub.CancelAtPeriodEnd {
				return TypeCancelSub, true, info
			}
			if was && !sub.CancelAtPeriodEnd {
				return TypeReactivateSub, true, info
			}
		}
	}

	if len(prev) > 0 && onlyRenewalKeys(prev) {
		return TypeRenewSub, false, info
	}

	if raw, ok := prev["status"]; ok {
		var was string
		if json.Unmarshal(raw, &was) == nil {
			switch {
			case was == "incomplete" && sub.Status == "active":
				return TypeNewSub, false, info
			case was == "active" && sub.Status == "past_due":
				return TypePaymentFail, false, info
			case was == "past_due" && sub.Status == "active":
				return TypePaymentFix, false, info
			}
		}
	}

	if _, ok := prev["default_payment_method"]; ok {
		switch sub.Status {
		case "active":
			return TypeUpdatePaymentMethod, true, info
		case "incomplete", "past_due":
			// A fresh card on a delinquent subscription: primary, and the
			// processing step retries the open invoice.
			return TypePaymentFix, true, info
		}
	}

	return TypeUnknown, false, info
}

func parseSubscription(raw json.RawMessage) (subscriptionObject, bool) {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil || sub.ID == "" {
		return subscriptionObject{}, false
	}
	return sub, true
}

func subscriptionInfo(sub subscriptionObject) Info {
	info := Info{
		SubscriptionID:    sub.ID,
		CustomerID:        sub.Customer,
		SubscriptionState: sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PriceID:           sub.Plan.ID,
	}
	endTS := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		if info.PriceID == "" {
			info.PriceID = sub.Items.Data[0].Price.ID
		}
		if endTS == 0 {
			endTS = sub.Items.Data[0].CurrentPeriodEnd
		}
	}
	if endTS > 0 {
		end := time.Unix(endTS, 0).UTC()
		info.PeriodEnd = &end
	}
	return info
}

func onlyRenewalKeys(prev map[string]json.RawMessage) bool {
	for k := range prev {
		if _, ok := renewalKeys[k]; !ok {
			return false
		}
	}
	return true
}
