package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *StripeEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*StripeEvent, error)
	List(ctx context.Context, db *gorm.DB, q ListQuery) ([]StripeEvent, error)

	// Claim flips status from→to for the given row and reports whether this
	// caller won the transition.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status) (bool, error)

	UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error

	// FindStranded returns rows that still need a worker: status new rows
	// created before newBefore, plus status pending rows whose claim went
	// stale before claimBefore (the claiming worker died mid-flight).
	FindStranded(ctx context.Context, db *gorm.DB, newBefore, claimBefore time.Time) ([]StripeEvent, error)
}
