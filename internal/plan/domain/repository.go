package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	Update(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Plan, error)
	FindByType(ctx context.Context, db *gorm.DB, planType PlanType) (*Plan, error)
	FindByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*Plan, error)
	CountByTypeExcluding(ctx context.Context, db *gorm.DB, planType PlanType, excludeID snowflake.ID) (int64, error)

	InsertLimit(ctx context.Context, db *gorm.DB, limit *Limit) error
	FindLimitByName(ctx context.Context, db *gorm.DB, name string) (*Limit, error)
	UpsertPlanLimit(ctx context.Context, db *gorm.DB, planLimit *PlanLimit) error
	FindPlanLimitValue(ctx context.Context, db *gorm.DB, planID snowflake.ID, limitName string) (*int64, error)
}
