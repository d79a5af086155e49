package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/config"
	"github.com/smallbiznis/substation/internal/plan/domain"
	"github.com/smallbiznis/substation/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Billing *config.BillingConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	clock   clock.Clock
	billing *config.BillingConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("plan.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		billing: p.Billing,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}

	plan := domain.Plan{
		ID:           s.genID.Generate(),
		Name:         name,
		Type:         req.Type,
		DisplayPrice: req.DisplayPrice,
		PriceID:      normalizePriceID(req.PriceID),
	}
	if err := s.validate(ctx, &plan); err != nil {
		return domain.Plan{}, err
	}

	now := s.clock.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrDuplicateName
		}
		return domain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdatePlanRequest) (domain.Plan, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Plan{}, err
	}
	existing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}

	existing.Name = name
	existing.Type = req.Type
	existing.DisplayPrice = req.DisplayPrice
	existing.PriceID = normalizePriceID(req.PriceID)
	if err := s.validate(ctx, existing); err != nil {
		return domain.Plan{}, err
	}

	existing.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, existing); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrDuplicateName
		}
		return domain.Plan{}, err
	}
	return *existing, nil
}

// validate enforces the catalog invariants: price_id set iff the plan is
// paid, at most one free_default plan, at most one paid_public plan.
func (s *Service) validate(ctx context.Context, plan *domain.Plan) error {
	switch plan.Type {
	case domain.PlanTypeFreeDefault, domain.PlanTypeFreePrivate,
		domain.PlanTypePaidPublic, domain.PlanTypePaidPrivate:
	default:
		return domain.ErrInvalidPlanType
	}

	if plan.Type.Paid() && plan.PriceID == nil {
		return domain.ErrPriceIDRequired
	}
	if !plan.Type.Paid() && plan.PriceID != nil {
		return domain.ErrPriceIDForbidden
	}

	if plan.Type == domain.PlanTypeFreeDefault {
		count, err := s.repo.CountByTypeExcluding(ctx, s.db, domain.PlanTypeFreeDefault, plan.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDuplicateDefaultPlan
		}
	}
	if plan.Type == domain.PlanTypePaidPublic {
		count, err := s.repo.CountByTypeExcluding(ctx, s.db, domain.PlanTypePaidPublic, plan.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDuplicatePaidPlan
		}
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, rawID string) (domain.Plan, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Plan{}, err
	}
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) GetByPriceID(ctx context.Context, priceID string) (domain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	plan, err := s.repo.FindByPriceID(ctx, s.db, priceID)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) GetPublicPaidPlan(ctx context.Context) (domain.Plan, error) {
	plan, err := s.repo.FindByType(ctx, s.db, domain.PlanTypePaidPublic)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) EnsureDefaultPlan(ctx context.Context) (domain.Plan, error) {
	existing, err := s.repo.FindByType(ctx, s.db, domain.PlanTypeFreeDefault)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := s.clock.Now()
	plan := domain.Plan{
		ID:        s.genID.Generate(),
		Name:      s.billing.Get().DefaultPlanName,
		Type:      domain.PlanTypeFreeDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost the race; someone else just created it.
			existing, ferr := s.repo.FindByType(ctx, s.db, domain.PlanTypeFreeDefault)
			if ferr != nil {
				return domain.Plan{}, ferr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.Plan{}, err
	}
	s.log.Info("created free_default plan", zap.String("plan_id", plan.ID.String()))
	return plan, nil
}

func (s *Service) EffectivePlan(ctx context.Context, current domain.Plan, periodEnd *time.Time) (domain.Plan, error) {
	now := s.clock.Now()

	expired := periodEnd != nil && periodEnd.Before(now)
	neverActivated := periodEnd == nil && current.Type.Paid()
	if !expired && !neverActivated {
		return current, nil
	}
	return s.EnsureDefaultPlan(ctx)
}

func (s *Service) GetLimit(ctx context.Context, current domain.Plan, periodEnd *time.Time, name string) (int64, error) {
	effective, err := s.EffectivePlan(ctx, current, periodEnd)
	if err != nil {
		return 0, err
	}

	override, err := s.repo.FindPlanLimitValue(ctx, s.db, effective.ID, name)
	if err != nil {
		return 0, err
	}
	if override != nil {
		return *override, nil
	}

	limit, err := s.repo.FindLimitByName(ctx, s.db, name)
	if err != nil {
		return 0, err
	}
	if limit == nil {
		return 0, domain.ErrLimitNotFound
	}
	return limit.DefaultValue, nil
}

func (s *Service) DefineLimit(ctx context.Context, name string, defaultValue int64) (domain.Limit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Limit{}, domain.ErrInvalidName
	}

	existing, err := s.repo.FindLimitByName(ctx, s.db, name)
	if err != nil {
		return domain.Limit{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	limit := domain.Limit{
		ID:           s.genID.Generate(),
		Name:         name,
		DefaultValue: defaultValue,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.InsertLimit(ctx, s.db, &limit); err != nil {
		if db.IsDuplicateKeyErr(err) {
			existing, ferr := s.repo.FindLimitByName(ctx, s.db, name)
			if ferr == nil && existing != nil {
				return *existing, nil
			}
		}
		return domain.Limit{}, err
	}
	return limit, nil
}

func (s *Service) SetPlanLimit(ctx context.Context, rawPlanID string, limitName string, value int64) error {
	planID, err := parseID(rawPlanID)
	if err != nil {
		return err
	}
	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return domain.ErrPlanNotFound
	}

	limit, err := s.repo.FindLimitByName(ctx, s.db, strings.TrimSpace(limitName))
	if err != nil {
		return err
	}
	if limit == nil {
		return domain.ErrLimitNotFound
	}

	return s.repo.UpsertPlanLimit(ctx, s.db, &domain.PlanLimit{
		ID:        s.genID.Generate(),
		PlanID:    planID,
		LimitID:   limit.ID,
		Value:     value,
		CreatedAt: s.clock.Now(),
	})
}

func normalizePriceID(priceID *string) *string {
	if priceID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*priceID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func parseID(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
	}
	return snowflake.ID(parsed), nil
}
