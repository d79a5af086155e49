package domain

import (
	"context"
	"errors"
	"time"
)

type CreatePlanRequest struct {
	Name         string   `json:"name"`
	Type         PlanType `json:"type"`
	DisplayPrice int64    `json:"display_price"`
	PriceID      *string  `json:"price_id,omitempty"`
}

type UpdatePlanRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         PlanType `json:"type"`
	DisplayPrice int64    `json:"display_price"`
	PriceID      *string  `json:"price_id,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Update(ctx context.Context, req UpdatePlanRequest) (Plan, error)
	GetByID(ctx context.Context, id string) (Plan, error)
	GetByPriceID(ctx context.Context, priceID string) (Plan, error)
	GetPublicPaidPlan(ctx context.Context) (Plan, error)

	// EnsureDefaultPlan returns the free_default singleton, creating it on
	// demand. Safe to call concurrently.
	EnsureDefaultPlan(ctx context.Context) (Plan, error)

	// EffectivePlan resolves the plan actually governing entitlement right
	// now: the free_default singleton when the paid period has lapsed, or
	// when a paid plan never activated (nil period end), otherwise the plan
	// as stored.
	EffectivePlan(ctx context.Context, current Plan, periodEnd *time.Time) (Plan, error)

	// GetLimit resolves the effective plan, then the plan's override for the
	// named limit, then the limit's global default. A limit name that does
	// not exist at all is a programming error and returns ErrLimitNotFound.
	GetLimit(ctx context.Context, current Plan, periodEnd *time.Time, name string) (int64, error)

	DefineLimit(ctx context.Context, name string, defaultValue int64) (Limit, error)
	SetPlanLimit(ctx context.Context, planID string, limitName string, value int64) error
}

var (
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrLimitNotFound        = errors.New("limit_not_found")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidPlanType      = errors.New("invalid_plan_type")
	ErrInvalidID            = errors.New("invalid_id")
	ErrDuplicateName        = errors.New("duplicate_plan_name")
	ErrDuplicatePriceID     = errors.New("duplicate_price_id")
	ErrDuplicateDefaultPlan = errors.New("duplicate_default_plan")
	ErrDuplicatePaidPlan    = errors.New("duplicate_paid_plan")
	ErrPriceIDRequired      = errors.New("price_id_required")
	ErrPriceIDForbidden     = errors.New("price_id_forbidden")
)
