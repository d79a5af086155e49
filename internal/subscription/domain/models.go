// Package domain contains the durable mirror of the payment processor's
// subscription objects.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status mirrors the processor's subscription lifecycle states.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
)

// Record mirrors one processor subscription. Keyed by the processor-assigned
// subscription id; the customer reference is nullable because the record must
// outlive a hard-deleted account. Several records may point at the same
// customer (duplicate and renewal artifacts); ResolveCurrent picks the
// canonical one.
type Record struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	SubscriptionID    string        `gorm:"type:text;not null;uniqueIndex"`
	CustomerRef       *snowflake.ID `gorm:"index"`
	PriceID           string        `gorm:"type:text;not null"`
	Status            Status        `gorm:"type:text;not null"`
	CancelAtPeriodEnd bool          `gorm:"not null;default:false"`
	CurrentPeriodEnd  *time.Time    `gorm:""`
	Created           time.Time     `gorm:"not null"`
	UpdatedAt         time.Time     `gorm:"not null"`
}

func (Record) TableName() string { return "subscription_records" }
