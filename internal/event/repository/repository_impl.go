package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.StripeEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.StripeEvent, error) {
	var event domain.StripeEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q domain.ListQuery) ([]domain.StripeEvent, error) {
	stmt := db.WithContext(ctx).Model(&domain.StripeEvent{})
	if q.AccountID != "" {
		stmt = stmt.Where("account_id = ?", q.AccountID)
	}
	if q.Status != "" {
		stmt = stmt.Where("status = ?", q.Status)
	}
	if q.Type != "" {
		stmt = stmt.Where("type = ?", q.Type)
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}
	if q.Offset > 0 {
		stmt = stmt.Offset(q.Offset)
	}

	var events []domain.StripeEvent
	if err := stmt.Order("created_at desc, id desc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.StripeEvent{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&domain.StripeEvent{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) FindStranded(ctx context.Context, db *gorm.DB, newBefore, claimBefore time.Time) ([]domain.StripeEvent, error) {
	var events []domain.StripeEvent
	err := db.WithContext(ctx).
		Where("(status = ? AND created_at < ?) OR (status = ? AND updated_at < ?)",
			domain.StatusNew, newBefore, domain.StatusPending, claimBefore).
		Order("created_at asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
