package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Upsert(ctx context.Context, db *gorm.DB, req domain.UpsertRequest) (*domain.Record, error) {
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrMissingExternalID
	}
	if !validStatus(req.Status) {
		return nil, domain.ErrInvalidStatus
	}

	now := s.clock.Now()
	record := domain.Record{
		ID:                s.genID.Generate(),
		SubscriptionID:    subscriptionID,
		CustomerRef:       req.CustomerRef,
		PriceID:           strings.TrimSpace(req.PriceID),
		Status:            req.Status,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		CurrentPeriodEnd:  req.CurrentPeriodEnd,
		Created:           now,
		UpdatedAt:         now,
	}
	if err := s.repo.Upsert(ctx, db, &record); err != nil {
		return nil, err
	}

	// The upsert may have hit an existing row; read back the canonical copy
	// so the caller sees the stable primary key and created timestamp.
	stored, err := s.repo.FindBySubscriptionID(ctx, db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrRecordNotFound
	}
	return stored, nil
}

func (s *Service) GetBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Record, error) {
	return s.repo.FindBySubscriptionID(ctx, db, strings.TrimSpace(subscriptionID))
}

func (s *Service) ResolveCurrent(ctx context.Context, db *gorm.DB, customerRef snowflake.ID, planIsPaid bool) (*domain.Record, error) {
	var excluded []domain.Status
	if !planIsPaid {
		// Once the profile has rolled back to free, dead records are treated
		// as if they do not exist.
		excluded = []domain.Status{domain.StatusCanceled, domain.StatusIncompleteExpired}
	}

	records, err := s.repo.FindByCustomer(ctx, db, customerRef, excluded)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	for i := range records {
		if records[i].Status == domain.StatusActive {
			return &records[i], nil
		}
	}
	for i := range records {
		if records[i].Status == domain.StatusPastDue {
			return &records[i], nil
		}
	}
	// Records come back newest-first.
	return &records[0], nil
}

func (s *Service) UpdateStatus(ctx context.Context, db *gorm.DB, subscriptionID string, status domain.Status) (*domain.Record, error) {
	if !validStatus(status) {
		return nil, domain.ErrInvalidStatus
	}
	return s.update(ctx, db, subscriptionID, map[string]any{
		"status":     status,
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) UpdatePeriodEnd(ctx context.Context, db *gorm.DB, subscriptionID string, end *time.Time) (*domain.Record, error) {
	return s.update(ctx, db, subscriptionID, map[string]any{
		"current_period_end": end,
		"updated_at":         s.clock.Now(),
	})
}

func (s *Service) UpdateCancelFlag(ctx context.Context, db *gorm.DB, subscriptionID string, cancel bool) (*domain.Record, error) {
	return s.update(ctx, db, subscriptionID, map[string]any{
		"cancel_at_period_end": cancel,
		"updated_at":           s.clock.Now(),
	})
}

func (s *Service) update(ctx context.Context, db *gorm.DB, subscriptionID string, fields map[string]any) (*domain.Record, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	affected, err := s.repo.UpdateFields(ctx, db, subscriptionID, fields)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return s.repo.FindBySubscriptionID(ctx, db, subscriptionID)
}

func (s *Service) DetachCustomer(ctx context.Context, db *gorm.DB, customerRef snowflake.ID) error {
	return s.repo.DetachCustomer(ctx, db, customerRef)
}

func validStatus(status domain.Status) bool {
	switch status {
	case domain.StatusIncomplete, domain.StatusIncompleteExpired,
		domain.StatusActive, domain.StatusPastDue, domain.StatusCanceled:
		return true
	default:
		return false
	}
}
