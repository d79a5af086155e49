package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"customer_ref",
				"price_id",
				"status",
				"cancel_at_period_end",
				"current_period_end",
				"updated_at",
			}),
		}).
		Create(record).Error
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) FindByCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID, excluded []domain.Status) ([]domain.Record, error) {
	var records []domain.Record
	stmt := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("customer_ref = ?", customerRef)
	if len(excluded) > 0 {
		stmt = stmt.Where("status NOT IN ?", excluded)
	}
	err := stmt.Order("created desc, id desc").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, subscriptionID string, fields map[string]any) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *repo) DetachCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("customer_ref = ?", customerRef).
		Update("customer_ref", nil).Error
}
