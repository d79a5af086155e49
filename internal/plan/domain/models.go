// Package domain contains the pricing plan catalog and usage limits.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanType classifies how a plan is sold and entitled.
type PlanType string

const (
	PlanTypeFreeDefault PlanType = "free_default"
	PlanTypeFreePrivate PlanType = "free_private"
	PlanTypePaidPublic  PlanType = "paid_public"
	PlanTypePaidPrivate PlanType = "paid_private"
)

// Paid reports whether the plan bills through the payment processor.
func (t PlanType) Paid() bool {
	return t == PlanTypePaidPublic || t == PlanTypePaidPrivate
}

// Plan is a billing and permissioning tier. At most one free_default and at
// most one paid_public plan may exist; paid plans carry the processor's price
// identifier.
type Plan struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Name         string       `gorm:"type:text;not null;uniqueIndex"`
	Type         PlanType     `gorm:"type:text;not null"`
	DisplayPrice int64        `gorm:"not null;default:0"`
	PriceID      *string      `gorm:"type:text;uniqueIndex"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// ProcessorPriceID returns the processor price id, or "" for free plans.
func (p Plan) ProcessorPriceID() string {
	if p.PriceID == nil {
		return ""
	}
	return *p.PriceID
}

// Limit is a named usage attribute with a global default value.
type Limit struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Name         string       `gorm:"type:text;not null;uniqueIndex"`
	DefaultValue int64        `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null"`
}

func (Limit) TableName() string { return "limits" }

// PlanLimit overrides a Limit's default for one plan.
type PlanLimit struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	PlanID    snowflake.ID `gorm:"not null;index;uniqueIndex:uniq_plan_limit"`
	LimitID   snowflake.ID `gorm:"not null;uniqueIndex:uniq_plan_limit"`
	Value     int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (PlanLimit) TableName() string { return "plan_limits" }
