package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).
		Model(&domain.Plan{}).
		Where("id = ?", plan.ID).
		Updates(map[string]any{
			"name":          plan.Name,
			"type":          plan.Type,
			"display_price": plan.DisplayPrice,
			"price_id":      plan.PriceID,
			"updated_at":    plan.UpdatedAt,
		}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Plan, error) {
	return r.findOne(ctx, db, "name = ?", name)
}

func (r *repo) FindByType(ctx context.Context, db *gorm.DB, planType domain.PlanType) (*domain.Plan, error) {
	return r.findOne(ctx, db, "type = ?", planType)
}

func (r *repo) FindByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*domain.Plan, error) {
	return r.findOne(ctx, db, "price_id = ?", priceID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Where(query, arg).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) CountByTypeExcluding(ctx context.Context, db *gorm.DB, planType domain.PlanType, excludeID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Plan{}).
		Where("type = ? AND id <> ?", planType, excludeID).
		Count(&count).Error
	return count, err
}

func (r *repo) InsertLimit(ctx context.Context, db *gorm.DB, limit *domain.Limit) error {
	return db.WithContext(ctx).Create(limit).Error
}

func (r *repo) FindLimitByName(ctx context.Context, db *gorm.DB, name string) (*domain.Limit, error) {
	var limit domain.Limit
	err := db.WithContext(ctx).Where("name = ?", name).First(&limit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &limit, nil
}

func (r *repo) UpsertPlanLimit(ctx context.Context, db *gorm.DB, planLimit *domain.PlanLimit) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "limit_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(planLimit).Error
}

func (r *repo) FindPlanLimitValue(ctx context.Context, db *gorm.DB, planID snowflake.ID, limitName string) (*int64, error) {
	var row struct {
		Value int64
		Found bool
	}
	err := db.WithContext(ctx).Raw(
		`SELECT pl.value AS value, TRUE AS found
		 FROM plan_limits pl
		 JOIN limits l ON l.id = pl.limit_id
		 WHERE pl.plan_id = ? AND l.name = ?`,
		planID,
		limitName,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if !row.Found {
		return nil, nil
	}
	return &row.Value, nil
}
