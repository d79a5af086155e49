package stripe

import (
	"context"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/config"
)

type client struct {
	sc            *stripeapi.Client
	webhookSecret string
	billing       *config.BillingConfigHolder
	log           *zap.Logger
}

// NewClient builds the stripe-go backed gateway.
func NewClient(cfg config.Config, billing *config.BillingConfigHolder, log *zap.Logger) Gateway {
	return &client{
		sc:            stripeapi.NewClient(cfg.StripeAPIKey, nil),
		webhookSecret: cfg.StripeWebhookSecret,
		billing:       billing,
		log:           log.Named("stripe.client"),
	}
}

func (c *client) CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (Customer, error) {
	params := &stripeapi.CustomerCreateParams{
		Name:     stripeapi.String(name),
		Email:    stripeapi.String(email),
		Metadata: metadata,
	}

	cus, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		c.log.Error("create customer", zap.String("email", email), zap.Error(err))
		return Customer{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}

	return toCustomer(cus), nil
}

func (c *client) ModifyCustomer(ctx context.Context, customerID string, fields CustomerFields) error {
	params := &stripeapi.CustomerUpdateParams{}
	if fields.Name != nil {
		params.Name = stripeapi.String(*fields.Name)
	}
	if fields.Email != nil {
		params.Email = stripeapi.String(*fields.Email)
	}
	for k, v := range fields.Metadata {
		params.AddMetadata(k, v)
	}

	if _, err := c.sc.V1Customers.Update(ctx, customerID, params); err != nil {
		c.log.Error("update customer", zap.String("customer_id", customerID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	return nil
}

func (c *client) RetrieveCustomer(ctx context.Context, customerID string) (Customer, error) {
	cus, err := c.sc.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return Customer{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	if cus.Deleted {
		return Customer{}, ErrCustomerNotFound
	}
	return toCustomer(cus), nil
}

func (c *client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	params := &stripeapi.CustomerSearchParams{}
	params.Query = "email:'" + email + "'"
	params.Limit = stripeapi.Int64(1)

	for cus, err := range c.sc.V1Customers.Search(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExternalCall, err)
		}
		found := toCustomer(cus)
		return &found, nil
	}
	return nil, nil
}

func (c *client) CreateSubscription(ctx context.Context, customerID, paymentMethodID, priceID string) (Subscription, Card, error) {
	pm, err := c.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, &stripeapi.PaymentMethodAttachParams{
		Customer: stripeapi.String(customerID),
	})
	if err != nil {
		c.log.Error("attach payment method", zap.String("customer_id", customerID), zap.Error(err))
		return Subscription{}, Card{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}

	params := &stripeapi.SubscriptionCreateParams{
		Customer: stripeapi.String(customerID),
		Items: []*stripeapi.SubscriptionCreateItemParams{
			{Price: stripeapi.String(priceID)},
		},
		DefaultPaymentMethod: stripeapi.String(paymentMethodID),
		Expand:               []*string{stripeapi.String("latest_invoice")},
	}

	sub, err := c.sc.V1Subscriptions.Create(ctx, params)
	if err != nil {
		c.log.Error("create subscription", zap.String("customer_id", customerID), zap.Error(err))
		return Subscription{}, Card{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}

	return toSubscription(sub), toCard(pm), nil
}

func (c *client) RetrieveSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	return toSubscription(sub), nil
}

func (c *client) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	if immediate {
		if _, err := c.sc.V1Subscriptions.Cancel(ctx, subscriptionID, nil); err != nil {
			c.log.Error("cancel subscription", zap.String("subscription_id", subscriptionID), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrExternalCall, err)
		}
		return nil
	}

	params := &stripeapi.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripeapi.Bool(true),
	}
	if _, err := c.sc.V1Subscriptions.Update(ctx, subscriptionID, params); err != nil {
		c.log.Error("schedule cancel", zap.String("subscription_id", subscriptionID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	return nil
}

func (c *client) ReactivateSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripeapi.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripeapi.Bool(false),
	}
	if _, err := c.sc.V1Subscriptions.Update(ctx, subscriptionID, params); err != nil {
		c.log.Error("reactivate subscription", zap.String("subscription_id", subscriptionID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	return nil
}

func (c *client) ReplacePaymentMethod(ctx context.Context, customerID, subscriptionID, paymentMethodID string) (Card, error) {
	pm, err := c.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, &stripeapi.PaymentMethodAttachParams{
		Customer: stripeapi.String(customerID),
	})
	if err != nil {
		c.log.Error("attach payment method", zap.String("customer_id", customerID), zap.Error(err))
		return Card{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}

	params := &stripeapi.SubscriptionUpdateParams{
		DefaultPaymentMethod: stripeapi.String(paymentMethodID),
	}
	if _, err := c.sc.V1Subscriptions.Update(ctx, subscriptionID, params); err != nil {
		c.log.Error("set default payment method", zap.String("subscription_id", subscriptionID), zap.Error(err))
		return Card{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
	}
	return toCard(pm), nil
}

func (c *client) RetryLatestOpenInvoice(ctx context.Context, customerID string) (Invoice, error) {
	params := &stripeapi.InvoiceListParams{
		Customer: stripeapi.String(customerID),
	}
	params.Limit = stripeapi.Int64(1)

	var latest *stripeapi.Invoice
	for inv, err := range c.sc.V1Invoices.List(ctx, params) {
		if err != nil {
			return Invoice{}, fmt.Errorf("%w: %v", ErrExternalCall, err)
		}
		latest = inv
		break
	}

	if latest == nil || latest.Status != stripeapi.InvoiceStatusOpen {
		return Invoice{}, ErrNoPaymentDue
	}

	paid, err := c.sc.V1Invoices.Pay(ctx, latest.ID, &stripeapi.InvoicePayParams{})
	if err != nil {
		c.log.Warn("invoice pay attempt failed",
			zap.String("customer_id", customerID),
			zap.String("invoice_id", latest.ID),
			zap.Error(err))
		return Invoice{}, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	return toInvoice(paid), nil
}

func (c *client) VerifySignature(payload []byte, signatureHeader string) error {
	if c.webhookSecret == "" {
		return nil
	}
	// Tolerance is read per call so a hot-reloaded billing config takes
	// effect without a restart.
	tolerance := time.Duration(c.billing.Get().SignatureToleranceSeconds) * time.Second
	_, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func toCustomer(cus *stripeapi.Customer) Customer {
	return Customer{
		ID:       cus.ID,
		Name:     cus.Name,
		Email:    cus.Email,
		Metadata: cus.Metadata,
	}
}

func toSubscription(sub *stripeapi.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoiceOpen = sub.LatestInvoice.Status == stripeapi.InvoiceStatusOpen
	}
	return out
}

func toCard(pm *stripeapi.PaymentMethod) Card {
	if pm == nil || pm.Card == nil {
		return Card{}
	}
	return Card{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}
}

func toInvoice(inv *stripeapi.Invoice) Invoice {
	out := Invoice{
		ID:     inv.ID,
		Status: string(inv.Status),
		Paid:   inv.Status == stripeapi.InvoiceStatusPaid,
	}
	if inv.Lines != nil && len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if line.Period != nil && line.Period.End > 0 {
			end := time.Unix(line.Period.End, 0).UTC()
			out.PeriodEnd = &end
		}
	}
	return out
}
