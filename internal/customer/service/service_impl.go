package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/customer/domain"
	"github.com/smallbiznis/substation/internal/observability/metrics"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	stripegw "github.com/smallbiznis/substation/internal/providers/stripe"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
	"github.com/smallbiznis/substation/pkg/db"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Plans   plandomain.Service
	Subs    subscriptiondomain.Service
	Gateway stripegw.Gateway
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	clock   clock.Clock
	plans   plandomain.Service
	subs    subscriptiondomain.Service
	gateway stripegw.Gateway
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("customer.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		plans:   p.Plans,
		subs:    p.Subs,
		gateway: p.Gateway,
		metrics: p.Metrics,
	}
}

func (s *Service) EnsureForAccount(ctx context.Context, account domain.Account) (domain.Customer, error) {
	if strings.TrimSpace(account.ID) == "" {
		return domain.Customer{}, domain.ErrInvalidAccountID
	}

	cust, err := s.repo.FindByAccountID(ctx, s.db, account.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	if cust == nil {
		return s.createProfile(ctx, account)
	}

	if cust.Name != account.Name || cust.Email != account.Email {
		fields := map[string]any{
			"name":       account.Name,
			"email":      account.Email,
			"updated_at": s.clock.Now(),
		}
		if err := s.repo.UpdateFields(ctx, s.db, cust.ID, fields); err != nil {
			return domain.Customer{}, err
		}
		cust.Name = account.Name
		cust.Email = account.Email

		// Contact changes cascade to the processor, but a processor outage
		// must not break account saves.
		if cust.CustomerID != nil {
			err := s.gateway.ModifyCustomer(ctx, *cust.CustomerID, stripegw.CustomerFields{
				Name:     &account.Name,
				Email:    &account.Email,
				Metadata: map[string]string{stripegw.AccountMetadataKey: account.ID},
			})
			if err != nil {
				s.log.Warn("processor contact cascade failed",
					zap.String("account_id", account.ID),
					zap.Error(err))
			}
		}
	}

	if !account.Active {
		s.scheduleCancelOnDeactivate(ctx, cust)
	}

	return *cust, nil
}

func (s *Service) createProfile(ctx context.Context, account domain.Account) (domain.Customer, error) {
	plan, err := s.plans.EnsureDefaultPlan(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	now := s.clock.Now()
	cust := domain.Customer{
		ID:        s.genID.Generate(),
		AccountID: account.ID,
		Name:      account.Name,
		Email:     account.Email,
		PlanID:    plan.ID,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &cust); err != nil {
		// Two concurrent saves of a brand-new account race on the unique
		// account id; the loser adopts the winner's row.
		if db.IsDuplicateKeyErr(err) {
			existing, ferr := s.repo.FindByAccountID(ctx, s.db, account.ID)
			if ferr != nil {
				return domain.Customer{}, ferr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return domain.Customer{}, err
	}
	s.log.Info("billing profile created",
		zap.String("account_id", account.ID),
		zap.Int64("plan_id", int64(plan.ID)))
	return cust, nil
}

// scheduleCancelOnDeactivate asks the processor to stop billing a deactivated
// account at period end. Entitlement stays intact until the period runs out.
func (s *Service) scheduleCancelOnDeactivate(ctx context.Context, cust *domain.Customer) {
	if cust.CustomerID == nil {
		return
	}
	current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
	if err != nil || current == nil {
		return
	}
	if current.Status != subscriptiondomain.StatusActive || current.CancelAtPeriodEnd {
		return
	}
	if err := s.gateway.CancelSubscription(ctx, current.SubscriptionID, false); err != nil {
		s.log.Warn("deactivation cancel failed",
			zap.String("account_id", cust.AccountID),
			zap.String("subscription_id", current.SubscriptionID),
			zap.Error(err))
		return
	}
	s.log.Info("subscription set to cancel after account deactivation",
		zap.String("account_id", cust.AccountID),
		zap.String("subscription_id", current.SubscriptionID))
}

func (s *Service) OnAccountHardDeleted(ctx context.Context, account domain.Account) error {
	cust, err := s.repo.FindByAccountID(ctx, s.db, account.ID)
	if err != nil {
		return err
	}
	if cust == nil {
		return nil
	}

	if cust.CustomerID != nil {
		current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
		if err != nil {
			return err
		}
		if current != nil && (current.Status == subscriptiondomain.StatusActive || current.Status == subscriptiondomain.StatusPastDue) {
			err := s.gateway.CancelSubscription(ctx, current.SubscriptionID, true)
			if err != nil && !errors.Is(err, stripegw.ErrSubscriptionClosed) {
				s.log.Warn("force cancel on account delete failed",
					zap.String("account_id", account.ID),
					zap.String("subscription_id", current.SubscriptionID),
					zap.Error(err))
			}
		}
	}

	// Records outlive the profile for audit, with their owner pointer
	// cleared.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subs.DetachCustomer(ctx, tx, cust.ID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, cust.ID)
	})
}

func (s *Service) GetByAccountID(ctx context.Context, accountID string) (domain.Customer, error) {
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *cust, nil
}

func (s *Service) GetByCustomerID(ctx context.Context, customerID string) (domain.Customer, error) {
	cust, err := s.repo.FindByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if cust == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return *cust, nil
}

func (s *Service) GetState(ctx context.Context, accountID string) (domain.StateView, error) {
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return domain.StateView{}, err
	}
	return s.stateOf(ctx, s.db, cust)
}

func (s *Service) stateOf(ctx context.Context, tx *gorm.DB, cust *domain.Customer) (domain.StateView, error) {
	current, err := s.subs.ResolveCurrent(ctx, tx, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return domain.StateView{}, err
	}

	state := domain.DeriveState(cust.Plan, cust.CurrentPeriodEnd, current, s.clock.Now())
	if state == domain.StateInvalid {
		s.metrics.RecordInvalidState()
		s.log.Error("billing fields derive no known state",
			zap.String("account_id", cust.AccountID),
			zap.String("plan_type", string(cust.Plan.Type)))
	}
	return domain.StateView{Customer: *cust, Current: current, State: state}, nil
}

func (s *Service) GetLimit(ctx context.Context, accountID, limitName string) (int64, error) {
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return s.plans.GetLimit(ctx, cust.Plan, cust.CurrentPeriodEnd, limitName)
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.StateView, error) {
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return domain.StateView{}, domain.ErrInvalidPaymentMethod
	}
	cust, err := s.mustFind(ctx, req.AccountID)
	if err != nil {
		return domain.StateView{}, err
	}

	plan, err := s.plans.GetPublicPaidPlan(ctx)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return domain.StateView{}, domain.ErrNoPaidPlan
		}
		return domain.StateView{}, err
	}

	current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return domain.StateView{}, err
	}
	if current != nil && current.Status == subscriptiondomain.StatusActive {
		return domain.StateView{}, domain.ErrAlreadySubscribed
	}

	customerID, err := s.ensureProcessorCustomer(ctx, cust)
	if err != nil {
		return domain.StateView{}, err
	}

	sub, card, err := s.gateway.CreateSubscription(ctx, customerID, req.PaymentMethodID, plan.ProcessorPriceID())
	if err != nil {
		return domain.StateView{}, err
	}

	// The webhook will re-deliver all of this; applying it here makes the
	// signup response reflect the new entitlement without waiting for it.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		custRef := cust.ID
		if _, err := s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
			SubscriptionID:    sub.ID,
			CustomerRef:       &custRef,
			PriceID:           sub.PriceID,
			Status:            subscriptiondomain.Status(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		}); err != nil {
			return err
		}

		fields := map[string]any{
			"plan_id":    plan.ID,
			"cc_info":    cardFields(card),
			"updated_at": s.clock.Now(),
		}
		if sub.CurrentPeriodEnd != nil {
			fields["current_period_end"] = *sub.CurrentPeriodEnd
		}
		return s.repo.UpdateFields(ctx, tx, cust.ID, fields)
	})
	if err != nil {
		return domain.StateView{}, err
	}

	fresh, err := s.mustFind(ctx, req.AccountID)
	if err != nil {
		return domain.StateView{}, err
	}
	s.log.Info("subscription opened",
		zap.String("account_id", cust.AccountID),
		zap.String("subscription_id", sub.ID),
		zap.String("price_id", sub.PriceID))
	return s.stateOf(ctx, s.db, fresh)
}

// ensureProcessorCustomer returns the processor customer id for the profile,
// creating one when needed. A processor customer already carrying this
// account's email and metadata tag is adopted instead of duplicated, which
// heals profiles that lost their pointer.
func (s *Service) ensureProcessorCustomer(ctx context.Context, cust *domain.Customer) (string, error) {
	if cust.CustomerID != nil {
		return *cust.CustomerID, nil
	}

	var customerID string
	if cust.Email != "" {
		found, err := s.gateway.FindCustomerByEmail(ctx, cust.Email)
		if err != nil {
			return "", err
		}
		if found != nil && found.Metadata[stripegw.AccountMetadataKey] == cust.AccountID {
			customerID = found.ID
			s.log.Info("adopted existing processor customer",
				zap.String("account_id", cust.AccountID),
				zap.String("customer_id", customerID))
		}
	}

	if customerID == "" {
		created, err := s.gateway.CreateCustomer(ctx, cust.Name, cust.Email, map[string]string{
			stripegw.AccountMetadataKey: cust.AccountID,
		})
		if err != nil {
			return "", err
		}
		customerID = created.ID
	}

	fields := map[string]any{
		"customer_id": customerID,
		"updated_at":  s.clock.Now(),
	}
	if err := s.repo.UpdateFields(ctx, s.db, cust.ID, fields); err != nil {
		return "", err
	}
	cust.CustomerID = &customerID
	return customerID, nil
}

func (s *Service) CancelSubscription(ctx context.Context, accountID string) error {
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return err
	}
	current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return err
	}
	if current == nil || current.Status != subscriptiondomain.StatusActive {
		return domain.ErrNoActiveSubscription
	}
	if current.CancelAtPeriodEnd {
		return nil
	}
	return s.gateway.CancelSubscription(ctx, current.SubscriptionID, false)
}

func (s *Service) ReactivateSubscription(ctx context.Context, accountID string) error {
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return err
	}
	current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return err
	}
	if current == nil || current.Status != subscriptiondomain.StatusActive || !current.CancelAtPeriodEnd {
		return domain.ErrNoActiveSubscription
	}
	return s.gateway.ReactivateSubscription(ctx, current.SubscriptionID)
}

func (s *Service) ReplacePaymentMethod(ctx context.Context, accountID, paymentMethodID string) error {
	if strings.TrimSpace(paymentMethodID) == "" {
		return domain.ErrInvalidPaymentMethod
	}
	cust, err := s.mustFind(ctx, accountID)
	if err != nil {
		return err
	}
	if cust.CustomerID == nil {
		return domain.ErrNoActiveSubscription
	}
	current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return err
	}
	if current == nil || (current.Status != subscriptiondomain.StatusActive && current.Status != subscriptiondomain.StatusPastDue) {
		return domain.ErrNoActiveSubscription
	}

	card, err := s.gateway.ReplacePaymentMethod(ctx, *cust.CustomerID, current.SubscriptionID, paymentMethodID)
	if err != nil {
		return err
	}
	return s.repo.UpdateFields(ctx, s.db, cust.ID, map[string]any{
		"cc_info":    cardFields(card),
		"updated_at": s.clock.Now(),
	})
}

func (s *Service) mustFind(ctx context.Context, accountID string) (*domain.Customer, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.ErrInvalidAccountID
	}
	cust, err := s.repo.FindByAccountID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return nil, domain.ErrCustomerNotFound
	}
	return cust, nil
}

func cardFields(card stripegw.Card) datatypes.JSONMap {
	return datatypes.JSONMap{
		"brand":     card.Brand,
		"last4":     card.Last4,
		"exp_month": card.ExpMonth,
		"exp_year":  card.ExpYear,
	}
}
