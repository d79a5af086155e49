package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/config"
	"github.com/smallbiznis/substation/internal/customer/domain"
	customerrepo "github.com/smallbiznis/substation/internal/customer/repository"
	"github.com/smallbiznis/substation/internal/observability/metrics"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	planrepo "github.com/smallbiznis/substation/internal/plan/repository"
	planservice "github.com/smallbiznis/substation/internal/plan/service"
	stripegw "github.com/smallbiznis/substation/internal/providers/stripe"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/substation/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/substation/internal/subscription/service"
)

type fixture struct {
	t     *testing.T
	svc   *Service
	conn  *gorm.DB
	clk   *clock.FakeClock
	gw    *stripegw.Mock
	subs  subscriptiondomain.Service
	plans plandomain.Service

	paidPlan plandomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&plandomain.Plan{}, &plandomain.Limit{}, &plandomain.PlanLimit{},
		&domain.Customer{},
		&subscriptiondomain.Record{},
	))
	f.conn = conn

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	f.clk = clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	f.gw = stripegw.NewMock(f.clk, zap.NewNop())

	f.plans = planservice.New(planservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    planrepo.Provide(),
		Clock:   f.clk,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
	priceID := "price_001"
	f.paidPlan, err = f.plans.Create(context.Background(), plandomain.CreatePlanRequest{
		Name:         "Pro",
		Type:         plandomain.PlanTypePaidPublic,
		DisplayPrice: 2900,
		PriceID:      &priceID,
	})
	require.NoError(t, err)
	f.subs = subscriptionservice.New(subscriptionservice.Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  subscriptionrepo.Provide(),
		Clock: f.clk,
	})

	m, err := metrics.New()
	require.NoError(t, err)

	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    customerrepo.Provide(),
		Clock:   f.clk,
		Plans:   f.plans,
		Subs:    f.subs,
		Gateway: f.gw,
		Metrics: m,
	})
	f.svc = svc.(*Service)
	return f
}

func (f *fixture) account(id string) domain.Account {
	return domain.Account{ID: id, Name: "Acme", Email: id + "@example.com", Active: true}
}

func (f *fixture) subscribe(accountID string) domain.StateView {
	f.t.Helper()
	_, err := f.svc.EnsureForAccount(context.Background(), f.account(accountID))
	require.NoError(f.t, err)
	view, err := f.svc.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		AccountID:       accountID,
		PaymentMethodID: "pm_123",
	})
	require.NoError(f.t, err)
	return view
}

func TestEnsureForAccountCreatesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cust, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)
	assert.Equal(t, "acct_1", cust.AccountID)
	assert.Equal(t, plandomain.PlanTypeFreeDefault, cust.Plan.Type)
	assert.Nil(t, cust.CustomerID)

	// Saving again is a no-op returning the same profile.
	again, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)
	assert.Equal(t, cust.ID, again.ID)

	view, err := f.svc.GetState(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFreeDefaultNew, view.State)
}

func TestEnsureForAccountCascadesContactChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe("acct_1")

	acct := f.account("acct_1")
	acct.Name = "Acme Renamed"
	acct.Email = "new@example.com"
	cust, err := f.svc.EnsureForAccount(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", cust.Name)

	require.NotNil(t, cust.CustomerID)
	pc, err := f.gw.RetrieveCustomer(ctx, *cust.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", pc.Name)
	assert.Equal(t, "new@example.com", pc.Email)
}

func TestEnsureForAccountDeactivationSchedulesCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.subscribe("acct_1")

	acct := f.account("acct_1")
	acct.Active = false
	_, err := f.svc.EnsureForAccount(ctx, acct)
	require.NoError(t, err)

	sub, err := f.gw.RetrieveSubscription(ctx, view.Current.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
}

func TestEnsureForAccountValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EnsureForAccount(context.Background(), domain.Account{ID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidAccountID)
}

func TestCreateSubscription(t *testing.T) {
	f := newFixture(t)
	view := f.subscribe("acct_1")

	assert.Equal(t, domain.StatePaidPaying, view.State)
	assert.Equal(t, plandomain.PlanTypePaidPublic, view.Customer.Plan.Type)
	require.NotNil(t, view.Customer.CurrentPeriodEnd)
	require.NotNil(t, view.Current)
	assert.Equal(t, subscriptiondomain.StatusActive, view.Current.Status)
	assert.Equal(t, "visa", view.Customer.CCInfo["brand"])

	// The processor customer carries the account tag for reconciliation.
	require.NotNil(t, view.Customer.CustomerID)
	pc, err := f.gw.RetrieveCustomer(context.Background(), *view.Customer.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", pc.Metadata[stripegw.AccountMetadataKey])
}

func TestCreateSubscriptionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{AccountID: "acct_1"})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	_, err = f.svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		AccountID: "acct_missing", PaymentMethodID: "pm_123",
	})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	f.subscribe("acct_1")
	_, err = f.svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		AccountID: "acct_1", PaymentMethodID: "pm_123",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadySubscribed)
}

func TestCreateSubscriptionWithoutPaidPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)

	require.NoError(t, f.conn.Where("type = ?", plandomain.PlanTypePaidPublic).Delete(&plandomain.Plan{}).Error)

	_, err = f.svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		AccountID: "acct_1", PaymentMethodID: "pm_123",
	})
	assert.ErrorIs(t, err, domain.ErrNoPaidPlan)
}

func TestCreateSubscriptionAdoptsOrphanedProcessorCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)

	// A processor customer from a previous life, tagged with this account.
	orphan, err := f.gw.CreateCustomer(ctx, "Acme", "acct_1@example.com", map[string]string{
		stripegw.AccountMetadataKey: "acct_1",
	})
	require.NoError(t, err)

	view, err := f.svc.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		AccountID: "acct_1", PaymentMethodID: "pm_123",
	})
	require.NoError(t, err)
	require.NotNil(t, view.Customer.CustomerID)
	assert.Equal(t, orphan.ID, *view.Customer.CustomerID)
}

func TestCancelAndReactivateSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.CancelSubscription(ctx, "acct_1"), domain.ErrNoActiveSubscription)
	assert.ErrorIs(t, f.svc.ReactivateSubscription(ctx, "acct_1"), domain.ErrNoActiveSubscription)

	view := f.subscribe("acct_1")
	require.NoError(t, f.svc.CancelSubscription(ctx, "acct_1"))

	sub, err := f.gw.RetrieveSubscription(ctx, view.Current.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	// The local flag follows via webhook; mirror it so reactivation sees it.
	_, err = f.subs.UpdateCancelFlag(ctx, f.conn, view.Current.SubscriptionID, true)
	require.NoError(t, err)

	// Canceling again while already scheduled is a no-op.
	require.NoError(t, f.svc.CancelSubscription(ctx, "acct_1"))

	require.NoError(t, f.svc.ReactivateSubscription(ctx, "acct_1"))
	sub, err = f.gw.RetrieveSubscription(ctx, view.Current.SubscriptionID)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestReplacePaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnsureForAccount(ctx, f.account("acct_1"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.ReplacePaymentMethod(ctx, "acct_1", "pm_new"), domain.ErrNoActiveSubscription)
	assert.ErrorIs(t, f.svc.ReplacePaymentMethod(ctx, "acct_1", " "), domain.ErrInvalidPaymentMethod)

	f.subscribe("acct_1")
	require.NoError(t, f.svc.ReplacePaymentMethod(ctx, "acct_1", "pm_new"))

	cust, err := f.svc.GetByAccountID(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "mastercard", cust.CCInfo["brand"])
}

func TestOnAccountHardDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.subscribe("acct_1")

	require.NoError(t, f.svc.OnAccountHardDeleted(ctx, f.account("acct_1")))

	_, err := f.svc.GetByAccountID(ctx, "acct_1")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	// The record survives for audit with its owner pointer cleared.
	rec, err := f.subs.GetBySubscriptionID(ctx, f.conn, view.Current.SubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.CustomerRef)

	// The processor subscription was torn down immediately.
	sub, err := f.gw.RetrieveSubscription(ctx, view.Current.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)

	// Deleting an account with no profile is fine.
	require.NoError(t, f.svc.OnAccountHardDeleted(ctx, f.account("acct_ghost")))
}

func TestGetLimitFallsBackAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.plans.DefineLimit(ctx, "projects", 3)
	require.NoError(t, err)
	require.NoError(t, f.plans.SetPlanLimit(ctx, f.paidPlan.ID.String(), "projects", 50))

	f.subscribe("acct_1")

	val, err := f.svc.GetLimit(ctx, "acct_1", "projects")
	require.NoError(t, err)
	assert.Equal(t, int64(50), val)

	// Once the paid period lapses the default plan governs again.
	f.clk.Advance(31 * 24 * time.Hour)
	val, err = f.svc.GetLimit(ctx, "acct_1", "projects")
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)

	_, err = f.svc.GetLimit(ctx, "acct_1", "missing")
	assert.ErrorIs(t, err, plandomain.ErrLimitNotFound)
}
