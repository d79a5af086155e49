// Package domain contains the per-account billing profile and the state
// derivation that turns stored billing fields into an entitlement state.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	"gorm.io/datatypes"
)

// Customer is the billing profile attached one-to-one to an account. The
// processor's customer id stays null until the first processor interaction.
// Payment status is never stored here; it is derived on every read from the
// canonical subscription record (see state.go).
type Customer struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	AccountID        string            `gorm:"type:text;not null;uniqueIndex"`
	Name             string            `gorm:"type:text"`
	Email            string            `gorm:"type:text"`
	CustomerID       *string           `gorm:"type:text;uniqueIndex"`
	PlanID           snowflake.ID      `gorm:"not null;index"`
	Plan             plandomain.Plan   `gorm:"foreignKey:PlanID"`
	CurrentPeriodEnd *time.Time        `gorm:""`
	CCInfo           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null"`
	UpdatedAt        time.Time         `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

// Account is the slice of the external account system the billing core needs
// at its two hook points. The account lifecycle itself lives elsewhere.
type Account struct {
	ID     string
	Name   string
	Email  string
	Active bool
}
