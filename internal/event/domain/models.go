// Package domain holds the notification ledger and the pure classifier that
// maps raw processor payloads to semantic billing events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Type is the semantic classification of a processor notification.
type Type string

const (
	TypeNewSub              Type = "new_sub"
	TypeRenewSub            Type = "renew_sub"
	TypePaymentFail         Type = "payment_fail"
	TypePaymentFix          Type = "payment_fix"
	TypeUpdatePaymentMethod Type = "update_payment_method"
	TypeCancelSub           Type = "cancel_sub"
	TypeReactivateSub       Type = "reactivate_sub"
	TypeDeleteSub           Type = "delete_sub"
	TypeUnknown             Type = "unknown"
)

// Status is the ledger row lifecycle. New and Pending are transient; the
// other three are terminal.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
	StatusError     Status = "error"
)

// StripeEvent is one ledger row per inbound notification. Rows are append
// only: after creation nothing mutates them except their own classification,
// linkage, note and status fields, always via the processor pipeline. Body
// keeps the exact inbound bytes because the delivery signature is computed
// over them.
type StripeEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventID     string            `gorm:"type:text;not null;index"`
	PayloadType string            `gorm:"type:text;not null"`
	Type        Type              `gorm:"type:text;not null;default:unknown"`
	Primary     bool              `gorm:"column:is_primary;not null;default:false"`
	Body        string            `gorm:"type:text"`
	Headers     datatypes.JSONMap `gorm:"type:jsonb"`
	Info        datatypes.JSONMap `gorm:"type:jsonb"`
	Note        string            `gorm:"type:text"`
	AccountID   *string           `gorm:"type:text;index"`
	SourceID    *snowflake.ID     `gorm:"index"`
	Status      Status            `gorm:"type:text;not null;index;default:new"`
	CreatedAt   time.Time         `gorm:"not null"`
	UpdatedAt   time.Time         `gorm:"not null"`
}

func (StripeEvent) TableName() string { return "stripe_events" }

// Replayed reports whether this row was created by an operator replay, in
// which case signature verification is bypassed.
func (e StripeEvent) Replayed() bool { return e.SourceID != nil }

// Terminal reports whether the row has reached a final status.
func (e StripeEvent) Terminal() bool {
	switch e.Status {
	case StatusProcessed, StatusIgnored, StatusError:
		return true
	default:
		return false
	}
}
