package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Omit("Plan").Create(customer).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db, "customers.id = ?", id)
}

func (r *repo) FindByAccountID(ctx context.Context, db *gorm.DB, accountID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, "customers.account_id = ?", accountID)
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, "customers.customer_id = ?", customerID)
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Customer, error) {
	return r.findOne(ctx, db, "customers.email = ?", email)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Preload("Plan").
		Where(query, arg).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Customer{}).Error
}
