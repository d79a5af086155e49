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
	"github.com/smallbiznis/substation/internal/subscription/domain"
	"github.com/smallbiznis/substation/internal/subscription/repository"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := New(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc.(*Service), conn, clk
}

func TestUpsertIdempotent(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()

	ref := snowflake.ID(42)
	end := clk.Now().Add(30 * 24 * time.Hour)
	req := domain.UpsertRequest{
		SubscriptionID:   "sub_001",
		CustomerRef:      &ref,
		PriceID:          "price_001",
		Status:           domain.StatusActive,
		CurrentPeriodEnd: &end,
	}

	first, err := svc.Upsert(ctx, conn, req)
	require.NoError(t, err)

	// Re-delivery of the same payload keeps the original row.
	clk.Advance(time.Minute)
	second, err := svc.Upsert(ctx, conn, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Created, second.Created)

	var count int64
	require.NoError(t, conn.Model(&domain.Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertOverwritesFields(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()

	ref := snowflake.ID(42)
	_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
		SubscriptionID: "sub_001",
		CustomerRef:    &ref,
		PriceID:        "price_001",
		Status:         domain.StatusIncomplete,
	})
	require.NoError(t, err)

	end := clk.Now().Add(30 * 24 * time.Hour)
	updated, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
		SubscriptionID:   "sub_001",
		CustomerRef:      &ref,
		PriceID:          "price_001",
		Status:           domain.StatusActive,
		CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, updated.Status)
	require.NotNil(t, updated.CurrentPeriodEnd)
}

func TestUpsertValidation(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{SubscriptionID: " ", Status: domain.StatusActive})
	assert.ErrorIs(t, err, domain.ErrMissingExternalID)

	_, err = svc.Upsert(ctx, conn, domain.UpsertRequest{SubscriptionID: "sub_001", Status: "trialing"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestResolveCurrentPriority(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()
	ref := snowflake.ID(7)

	insert := func(id string, status domain.Status) {
		_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
			SubscriptionID: id,
			CustomerRef:    &ref,
			PriceID:        "price_001",
			Status:         status,
		})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	insert("sub_old_canceled", domain.StatusCanceled)
	insert("sub_past_due", domain.StatusPastDue)
	insert("sub_active", domain.StatusActive)
	insert("sub_newest_incomplete", domain.StatusIncomplete)

	// Active wins over everything.
	current, err := svc.ResolveCurrent(ctx, conn, ref, true)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "sub_active", current.SubscriptionID)

	// Without an active record, past_due wins.
	_, err = svc.UpdateStatus(ctx, conn, "sub_active", domain.StatusCanceled)
	require.NoError(t, err)
	current, err = svc.ResolveCurrent(ctx, conn, ref, true)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "sub_past_due", current.SubscriptionID)

	// Without either, the newest record wins.
	_, err = svc.UpdateStatus(ctx, conn, "sub_past_due", domain.StatusCanceled)
	require.NoError(t, err)
	current, err = svc.ResolveCurrent(ctx, conn, ref, true)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "sub_newest_incomplete", current.SubscriptionID)
}

func TestResolveCurrentExcludesDeadRecordsOnFreePlan(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()
	ref := snowflake.ID(7)

	for id, status := range map[string]domain.Status{
		"sub_canceled": domain.StatusCanceled,
		"sub_expired":  domain.StatusIncompleteExpired,
	} {
		_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
			SubscriptionID: id,
			CustomerRef:    &ref,
			PriceID:        "price_001",
			Status:         status,
		})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	// On a free plan the dead records are invisible.
	current, err := svc.ResolveCurrent(ctx, conn, ref, false)
	require.NoError(t, err)
	assert.Nil(t, current)

	// On a paid plan the newest of them still resolves.
	current, err = svc.ResolveCurrent(ctx, conn, ref, true)
	require.NoError(t, err)
	require.NotNil(t, current)
}

func TestTargetedUpdates(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()
	ref := snowflake.ID(7)

	_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
		SubscriptionID: "sub_001",
		CustomerRef:    &ref,
		PriceID:        "price_001",
		Status:         domain.StatusActive,
	})
	require.NoError(t, err)

	end := clk.Now().Add(30 * 24 * time.Hour)
	rec, err := svc.UpdatePeriodEnd(ctx, conn, "sub_001", &end)
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, end.Unix(), rec.CurrentPeriodEnd.Unix())

	rec, err = svc.UpdateCancelFlag(ctx, conn, "sub_001", true)
	require.NoError(t, err)
	assert.True(t, rec.CancelAtPeriodEnd)
	assert.Equal(t, domain.StatusActive, rec.Status)

	rec, err = svc.UpdateStatus(ctx, conn, "sub_001", domain.StatusPastDue)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, rec.Status)
	assert.True(t, rec.CancelAtPeriodEnd)

	_, err = svc.UpdateStatus(ctx, conn, "sub_missing", domain.StatusCanceled)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestDetachCustomer(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	ref := snowflake.ID(7)

	_, err := svc.Upsert(ctx, conn, domain.UpsertRequest{
		SubscriptionID: "sub_001",
		CustomerRef:    &ref,
		PriceID:        "price_001",
		Status:         domain.StatusCanceled,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DetachCustomer(ctx, conn, ref))

	rec, err := svc.GetBySubscriptionID(ctx, conn, "sub_001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.CustomerRef)
}
