package stripe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/clock"
)

const mockPeriod = 30 * 24 * time.Hour

type mockCustomer struct {
	customer Customer
	openInv  *Invoice
}

// Mock is an in-memory gateway used for local development and tests. IDs are
// deterministic, every subscription activates immediately, and signature
// verification always passes.
type Mock struct {
	mu    sync.Mutex
	clock clock.Clock
	log   *zap.Logger

	seq           int
	customers     map[string]*mockCustomer
	subscriptions map[string]*Subscription

	// RetryCalls counts RetryLatestOpenInvoice invocations, keyed by
	// processor customer id.
	RetryCalls map[string]int
}

// NewMock builds the in-memory gateway.
func NewMock(clk clock.Clock, log *zap.Logger) *Mock {
	return &Mock{
		clock:         clk,
		log:           log.Named("stripe.mock"),
		customers:     map[string]*mockCustomer{},
		subscriptions: map[string]*Subscription{},
		RetryCalls:    map[string]int{},
	}
}

func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%06d", prefix, m.seq)
}

func (m *Mock) CreateCustomer(_ context.Context, name, email string, metadata map[string]string) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	md := map[string]string{}
	for k, v := range metadata {
		md[k] = v
	}
	cus := Customer{ID: m.nextID("cus"), Name: name, Email: email, Metadata: md}
	m.customers[cus.ID] = &mockCustomer{customer: cus}
	return cus, nil
}

func (m *Mock) ModifyCustomer(_ context.Context, customerID string, fields CustomerFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.customers[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	if fields.Name != nil {
		entry.customer.Name = *fields.Name
	}
	if fields.Email != nil {
		entry.customer.Email = *fields.Email
	}
	for k, v := range fields.Metadata {
		entry.customer.Metadata[k] = v
	}
	return nil
}

func (m *Mock) RetrieveCustomer(_ context.Context, customerID string) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.customers[customerID]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return entry.customer, nil
}

func (m *Mock) FindCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.customers {
		if entry.customer.Email == email {
			found := entry.customer
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Mock) CreateSubscription(_ context.Context, customerID, paymentMethodID, priceID string) (Subscription, Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[customerID]; !ok {
		return Subscription{}, Card{}, ErrCustomerNotFound
	}

	end := m.clock.Now().Add(mockPeriod)
	sub := Subscription{
		ID:               m.nextID("sub"),
		CustomerID:       customerID,
		PriceID:          priceID,
		Status:           "active",
		CurrentPeriodEnd: &end,
	}
	m.subscriptions[sub.ID] = &sub
	m.log.Debug("mock subscription opened",
		zap.String("subscription_id", sub.ID),
		zap.String("customer_id", customerID),
		zap.String("price_id", priceID))

	return sub, Card{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: int64(end.Year() + 3)}, nil
}

func (m *Mock) RetrieveSubscription(_ context.Context, subscriptionID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return Subscription{}, ErrSubscriptionClosed
	}
	return *sub, nil
}

func (m *Mock) CancelSubscription(_ context.Context, subscriptionID string, immediate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return ErrSubscriptionClosed
	}
	if immediate {
		sub.Status = "canceled"
		return nil
	}
	sub.CancelAtPeriodEnd = true
	return nil
}

func (m *Mock) ReactivateSubscription(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok || sub.Status == "canceled" {
		return ErrSubscriptionClosed
	}
	sub.CancelAtPeriodEnd = false
	return nil
}

func (m *Mock) ReplacePaymentMethod(_ context.Context, customerID, subscriptionID, paymentMethodID string) (Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[customerID]; !ok {
		return Card{}, ErrCustomerNotFound
	}
	if _, ok := m.subscriptions[subscriptionID]; !ok {
		return Card{}, ErrSubscriptionClosed
	}
	return Card{Brand: "mastercard", Last4: "5100", ExpMonth: 6, ExpYear: int64(m.clock.Now().Year() + 4)}, nil
}

func (m *Mock) RetryLatestOpenInvoice(_ context.Context, customerID string) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RetryCalls[customerID]++

	entry, ok := m.customers[customerID]
	if !ok {
		return Invoice{}, ErrCustomerNotFound
	}
	if entry.openInv == nil {
		return Invoice{}, ErrNoPaymentDue
	}

	inv := *entry.openInv
	inv.Status = "paid"
	inv.Paid = true
	end := m.clock.Now().Add(mockPeriod)
	inv.PeriodEnd = &end
	entry.openInv = nil
	return inv, nil
}

func (m *Mock) VerifySignature([]byte, string) error {
	return nil
}

// OpenInvoice plants an unpaid invoice for the customer so a later retry has
// something to collect.
func (m *Mock) OpenInvoice(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.customers[customerID]
	if !ok {
		return
	}
	entry.openInv = &Invoice{ID: m.nextID("in"), Status: "open"}
}
