package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, record *Record) error
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Record, error)
	FindByCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID, excluded []Status) ([]Record, error)
	UpdateFields(ctx context.Context, db *gorm.DB, subscriptionID string, fields map[string]any) (int64, error)
	DetachCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID) error
}
