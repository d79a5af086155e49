package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/config"
	customerdomain "github.com/smallbiznis/substation/internal/customer/domain"
	"github.com/smallbiznis/substation/internal/event/domain"
	"github.com/smallbiznis/substation/internal/observability/metrics"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	stripegw "github.com/smallbiznis/substation/internal/providers/stripe"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

const signatureHeader = "Stripe-Signature"

// strandedGrace keeps the recovery sweep from racing rows that were ingested
// moments ago and are still riding the queue.
const strandedGrace = 30 * time.Second

// claimedGrace is how long a pending claim may sit untouched before the
// sweep assumes the claiming worker died and releases it. Generous, since a
// live worker holds a claim only for the span of one pipeline run.
const claimedGrace = 10 * time.Minute

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Clock     clock.Clock
	Billing   *config.BillingConfigHolder
	Metrics   *metrics.Metrics
	Gateway   stripegw.Gateway
	Queue     domain.Queue
	Customers customerdomain.Repository
	Plans     plandomain.Service
	Subs      subscriptiondomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	clock     clock.Clock
	billing   *config.BillingConfigHolder
	metrics   *metrics.Metrics
	gateway   stripegw.Gateway
	queue     domain.Queue
	customers customerdomain.Repository
	plans     plandomain.Service
	subs      subscriptiondomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("event.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		clock:     p.Clock,
		billing:   p.Billing,
		metrics:   p.Metrics,
		gateway:   p.Gateway,
		queue:     p.Queue,
		customers: p.Customers,
		plans:     p.Plans,
		subs:      p.Subs,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.StripeEvent, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return nil, domain.ErrMissingEventID
	}

	headers := datatypes.JSONMap{}
	for k, v := range req.Headers {
		headers[k] = v
	}

	now := s.clock.Now()
	ev := domain.StripeEvent{
		ID:          s.genID.Generate(),
		EventID:     eventID,
		PayloadType: strings.TrimSpace(req.PayloadType),
		Type:        domain.TypeUnknown,
		Body:        string(req.Body),
		Headers:     headers,
		Status:      domain.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &ev); err != nil {
		return nil, err
	}
	s.metrics.RecordEventReceived(ev.PayloadType)

	if !s.queue.Enqueue(ev.ID) {
		s.log.Warn("worker queue full, event left for recovery sweep",
			zap.String("event_id", ev.EventID),
			zap.Int64("ledger_id", int64(ev.ID)))
	}
	return &ev, nil
}

func (s *Service) Process(ctx context.Context, id snowflake.ID) error {
	ev, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if ev == nil {
		return domain.ErrEventNotFound
	}

	// The status field doubles as the concurrency guard: whoever wins the
	// new→pending transition owns the event.
	claimed, err := s.repo.Claim(ctx, s.db, id, domain.StatusNew, domain.StatusPending)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Warn("event already claimed, skipping",
			zap.String("event_id", ev.EventID),
			zap.Int64("ledger_id", int64(ev.ID)))
		return nil
	}
	ev.Status = domain.StatusPending

	if perr := s.run(ctx, ev); perr != nil {
		ev.Status = domain.StatusError
		ev.Note = perr.Error()
		s.log.Error("event processing failed",
			zap.String("event_id", ev.EventID),
			zap.String("payload_type", ev.PayloadType),
			zap.Error(perr))
		if err := s.finalize(ctx, s.db, ev); err != nil {
			return err
		}
	}

	s.metrics.RecordEventFinalized(string(ev.Type), string(ev.Status))
	return nil
}

// run executes signature check, classification, linkage, integrity check and
// effect application. A nil return means the event reached a terminal status
// and was persisted; any error leaves finalization to the caller.
func (s *Service) run(ctx context.Context, ev *domain.StripeEvent) error {
	if !ev.Replayed() {
		if err := s.gateway.VerifySignature([]byte(ev.Body), s.headerValue(ev, signatureHeader)); err != nil {
			return err
		}
	}

	etype, primary, info := domain.Classify([]byte(ev.Body))
	ev.Type = etype
	ev.Primary = primary
	ev.Info = info.Fields()

	if etype == domain.TypeUnknown {
		s.log.Error("unclassified notification",
			zap.String("event_id", ev.EventID),
			zap.String("payload_type", ev.PayloadType))
		ev.Status = domain.StatusIgnored
		ev.Note = "unclassified notification"
		return s.finalize(ctx, s.db, ev)
	}

	cust, err := s.link(ctx, info)
	if err != nil {
		return err
	}
	if cust == nil {
		if etype == domain.TypeDeleteSub {
			// The account may have been hard-deleted before the final
			// cancellation arrived.
			s.log.Warn("cancellation for unknown account",
				zap.String("event_id", ev.EventID),
				zap.String("customer_id", info.CustomerID))
			ev.Status = domain.StatusProcessed
			ev.Note = "no local account for processor customer"
			return s.finalize(ctx, s.db, ev)
		}
		return fmt.Errorf("no local account for processor customer %q", info.CustomerID)
	}
	ev.AccountID = &cust.AccountID

	// Non-primary events stop after linkage so the row stays attributable.
	if !primary {
		ev.Status = domain.StatusIgnored
		return s.finalize(ctx, s.db, ev)
	}

	if err := s.healIntegrity(ctx, cust, info); err != nil {
		return err
	}

	// Plan lookups and the external invoice retry happen before the
	// transaction opens, so no RPC runs while it is held.
	planForPrice, defaultPlan, err := s.plansFor(ctx, etype, info)
	if err != nil {
		return err
	}

	var retried *stripegw.Invoice
	if etype == domain.TypePaymentFix {
		retried, err = s.retryOpenInvoice(ctx, ev, cust)
		if err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyEffect(ctx, tx, ev, cust, info, planForPrice, defaultPlan, retried); err != nil {
			return err
		}
		ev.Status = domain.StatusProcessed
		return s.finalize(ctx, tx, ev)
	})
}

// link resolves the owning billing profile. When the local pointer is
// missing it asks the processor for the live customer record and matches on
// the account metadata tag, then on email.
func (s *Service) link(ctx context.Context, info domain.Info) (*customerdomain.Customer, error) {
	if info.CustomerID == "" {
		return nil, nil
	}
	cust, err := s.customers.FindByCustomerID(ctx, s.db, info.CustomerID)
	if err != nil || cust != nil {
		return cust, err
	}

	pc, err := s.gateway.RetrieveCustomer(ctx, info.CustomerID)
	if err != nil {
		if errors.Is(err, stripegw.ErrCustomerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if acct := pc.Metadata[stripegw.AccountMetadataKey]; acct != "" {
		cust, err = s.customers.FindByAccountID(ctx, s.db, acct)
		if err != nil || cust != nil {
			return cust, err
		}
	}
	if pc.Email != "" {
		return s.customers.FindByEmail(ctx, s.db, pc.Email)
	}
	return nil, nil
}

// healIntegrity makes the local pointers agree with what the event reports.
// The processor is the source of truth; disagreement is logged and then
// overwritten.
func (s *Service) healIntegrity(ctx context.Context, cust *customerdomain.Customer, info domain.Info) error {
	if info.CustomerID != "" && (cust.CustomerID == nil || *cust.CustomerID != info.CustomerID) {
		s.log.Error("stored processor customer id disagrees with event",
			zap.String("account_id", cust.AccountID),
			zap.Stringp("stored", cust.CustomerID),
			zap.String("reported", info.CustomerID))
		err := s.customers.UpdateFields(ctx, s.db, cust.ID, map[string]any{
			"customer_id": info.CustomerID,
			"updated_at":  s.clock.Now(),
		})
		if err != nil {
			return err
		}
		healed := info.CustomerID
		cust.CustomerID = &healed
	}

	if info.SubscriptionID != "" {
		current, err := s.subs.ResolveCurrent(ctx, s.db, cust.ID, cust.Plan.Type.Paid())
		if err != nil {
			return err
		}
		if current != nil && current.SubscriptionID != info.SubscriptionID {
			// The effect's upsert converges the record store on its own.
			s.log.Error("canonical subscription disagrees with event",
				zap.String("account_id", cust.AccountID),
				zap.String("stored", current.SubscriptionID),
				zap.String("reported", info.SubscriptionID))
		}
	}
	return nil
}

func (s *Service) plansFor(ctx context.Context, etype domain.Type, info domain.Info) (planForPrice, defaultPlan *plandomain.Plan, err error) {
	if etype == domain.TypeNewSub && info.SubscriptionState == "active" {
		plan, perr := s.plans.GetByPriceID(ctx, info.PriceID)
		if perr != nil {
			if errors.Is(perr, plandomain.ErrPlanNotFound) {
				return nil, nil, fmt.Errorf("no plan matches processor price %q", info.PriceID)
			}
			return nil, nil, perr
		}
		planForPrice = &plan
	}
	if etype == domain.TypeDeleteSub || (etype == domain.TypeNewSub && info.SubscriptionState != "active") {
		plan, perr := s.plans.EnsureDefaultPlan(ctx)
		if perr != nil {
			return nil, nil, perr
		}
		defaultPlan = &plan
	}
	return planForPrice, defaultPlan, nil
}

func (s *Service) retryOpenInvoice(ctx context.Context, ev *domain.StripeEvent, cust *customerdomain.Customer) (*stripegw.Invoice, error) {
	if cust.CustomerID == nil {
		return nil, fmt.Errorf("cannot retry invoice, account %q has no processor customer", cust.AccountID)
	}

	timeout := time.Duration(s.billing.Get().InvoiceRetryTimeoutSeconds) * time.Second
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.metrics.RecordInvoiceRetry()
	inv, err := s.gateway.RetryLatestOpenInvoice(rctx, *cust.CustomerID)
	switch {
	case err == nil:
		s.log.Info("open invoice collected after payment method change",
			zap.String("account_id", cust.AccountID),
			zap.String("invoice_id", inv.ID))
		return &inv, nil
	case errors.Is(err, stripegw.ErrNoPaymentDue):
		ev.Note = "no open invoice to retry"
		return nil, nil
	case errors.Is(err, stripegw.ErrPaymentDeclined):
		ev.Note = err.Error()
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Service) applyEffect(
	ctx context.Context,
	tx *gorm.DB,
	ev *domain.StripeEvent,
	cust *customerdomain.Customer,
	info domain.Info,
	planForPrice, defaultPlan *plandomain.Plan,
	retried *stripegw.Invoice,
) error {
	custRef := cust.ID

	switch ev.Type {
	case domain.TypeNewSub:
		rec, err := s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
			SubscriptionID:    info.SubscriptionID,
			CustomerRef:       &custRef,
			PriceID:           info.PriceID,
			Status:            subscriptiondomain.Status(info.SubscriptionState),
			CancelAtPeriodEnd: info.CancelAtPeriodEnd,
			CurrentPeriodEnd:  info.PeriodEnd,
		})
		if err != nil {
			return err
		}
		return s.applyToProfile(ctx, tx, cust, rec, planForPrice, defaultPlan)

	case domain.TypeRenewSub:
		rec, err := s.subs.UpdatePeriodEnd(ctx, tx, info.SubscriptionID, info.PeriodEnd)
		if errors.Is(err, subscriptiondomain.ErrRecordNotFound) {
			// Renewal outran the record's creation; materialize it.
			rec, err = s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
				SubscriptionID:   info.SubscriptionID,
				CustomerRef:      &custRef,
				PriceID:          info.PriceID,
				Status:           subscriptiondomain.StatusActive,
				CurrentPeriodEnd: info.PeriodEnd,
			})
		}
		if err != nil {
			return err
		}
		return s.applyPeriodEnd(ctx, tx, cust, rec, info.PeriodEnd)

	case domain.TypePaymentFail:
		_, err := s.subs.UpdateStatus(ctx, tx, info.SubscriptionID, subscriptiondomain.StatusPastDue)
		if errors.Is(err, subscriptiondomain.ErrRecordNotFound) {
			_, err = s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
				SubscriptionID:    info.SubscriptionID,
				CustomerRef:       &custRef,
				PriceID:           info.PriceID,
				Status:            subscriptiondomain.StatusPastDue,
				CancelAtPeriodEnd: info.CancelAtPeriodEnd,
				CurrentPeriodEnd:  info.PeriodEnd,
			})
		}
		return err

	case domain.TypePaymentFix:
		if retried == nil || !retried.Paid {
			return nil
		}
		// The paid invoice is the repair signal; the corroborating
		// past_due→active notification arrives non-primary, so the record
		// leaves past_due here.
		_, err := s.subs.UpdateStatus(ctx, tx, info.SubscriptionID, subscriptiondomain.StatusActive)
		if errors.Is(err, subscriptiondomain.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := s.subs.UpdatePeriodEnd(ctx, tx, info.SubscriptionID, retried.PeriodEnd)
		if err != nil {
			return err
		}
		return s.applyPeriodEnd(ctx, tx, cust, rec, retried.PeriodEnd)

	case domain.TypeCancelSub, domain.TypeReactivateSub:
		cancel := ev.Type == domain.TypeCancelSub
		_, err := s.subs.UpdateCancelFlag(ctx, tx, info.SubscriptionID, cancel)
		if errors.Is(err, subscriptiondomain.ErrRecordNotFound) {
			_, err = s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
				SubscriptionID:    info.SubscriptionID,
				CustomerRef:       &custRef,
				PriceID:           info.PriceID,
				Status:            subscriptiondomain.Status(info.SubscriptionState),
				CancelAtPeriodEnd: cancel,
				CurrentPeriodEnd:  info.PeriodEnd,
			})
		}
		return err

	case domain.TypeDeleteSub:
		rec, err := s.subs.UpdateStatus(ctx, tx, info.SubscriptionID, subscriptiondomain.StatusCanceled)
		if errors.Is(err, subscriptiondomain.ErrRecordNotFound) {
			rec, err = s.subs.Upsert(ctx, tx, subscriptiondomain.UpsertRequest{
				SubscriptionID: info.SubscriptionID,
				CustomerRef:    &custRef,
				PriceID:        info.PriceID,
				Status:         subscriptiondomain.StatusCanceled,
			})
		}
		if err != nil {
			return err
		}
		return s.applyToProfile(ctx, tx, cust, rec, nil, defaultPlan)

	case domain.TypeUpdatePaymentMethod:
		return nil

	default:
		return fmt.Errorf("no effect defined for event type %q", ev.Type)
	}
}

// applyToProfile pushes a record's consequences onto the billing profile,
// but only when the record is the canonical one; updates from a stale
// duplicate must not clobber the profile.
func (s *Service) applyToProfile(ctx context.Context, tx *gorm.DB, cust *customerdomain.Customer, rec *subscriptiondomain.Record, planForPrice, defaultPlan *plandomain.Plan) error {
	canonical, err := s.isCanonical(ctx, tx, cust, rec)
	if err != nil || !canonical {
		return err
	}

	switch rec.Status {
	case subscriptiondomain.StatusActive:
		if planForPrice == nil {
			return fmt.Errorf("no plan resolved for price %q", rec.PriceID)
		}
		return s.customers.UpdateFields(ctx, tx, cust.ID, map[string]any{
			"plan_id":            planForPrice.ID,
			"current_period_end": rec.CurrentPeriodEnd,
			"updated_at":         s.clock.Now(),
		})
	case subscriptiondomain.StatusCanceled,
		subscriptiondomain.StatusIncompleteExpired,
		subscriptiondomain.StatusIncomplete:
		if defaultPlan == nil {
			return errors.New("default plan not resolved for profile reset")
		}
		return s.customers.UpdateFields(ctx, tx, cust.ID, map[string]any{
			"plan_id":            defaultPlan.ID,
			"current_period_end": nil,
			"updated_at":         s.clock.Now(),
		})
	default:
		return nil
	}
}

func (s *Service) applyPeriodEnd(ctx context.Context, tx *gorm.DB, cust *customerdomain.Customer, rec *subscriptiondomain.Record, end *time.Time) error {
	canonical, err := s.isCanonical(ctx, tx, cust, rec)
	if err != nil || !canonical {
		return err
	}
	return s.customers.UpdateFields(ctx, tx, cust.ID, map[string]any{
		"current_period_end": end,
		"updated_at":         s.clock.Now(),
	})
}

func (s *Service) isCanonical(ctx context.Context, tx *gorm.DB, cust *customerdomain.Customer, rec *subscriptiondomain.Record) (bool, error) {
	if rec == nil {
		return false, nil
	}
	current, err := s.subs.ResolveCurrent(ctx, tx, cust.ID, cust.Plan.Type.Paid())
	if err != nil {
		return false, err
	}
	return current != nil && current.SubscriptionID == rec.SubscriptionID, nil
}

func (s *Service) finalize(ctx context.Context, tx *gorm.DB, ev *domain.StripeEvent) error {
	ev.UpdatedAt = s.clock.Now()
	return s.repo.UpdateFields(ctx, tx, ev.ID, map[string]any{
		"type":       ev.Type,
		"is_primary": ev.Primary,
		"info":       ev.Info,
		"account_id": ev.AccountID,
		"note":       ev.Note,
		"status":     ev.Status,
		"updated_at": ev.UpdatedAt,
	})
}

func (s *Service) Replay(ctx context.Context, id snowflake.ID) (*domain.StripeEvent, error) {
	src, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, domain.ErrEventNotFound
	}
	if !src.Terminal() {
		return nil, domain.ErrNotReplayable
	}

	now := s.clock.Now()
	sourceID := src.ID
	clone := domain.StripeEvent{
		ID:          s.genID.Generate(),
		EventID:     src.EventID,
		PayloadType: src.PayloadType,
		Type:        domain.TypeUnknown,
		Body:        src.Body,
		Headers:     src.Headers,
		SourceID:    &sourceID,
		Status:      domain.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &clone); err != nil {
		return nil, err
	}
	s.log.Info("event queued for replay",
		zap.String("event_id", clone.EventID),
		zap.Int64("source_ledger_id", int64(sourceID)),
		zap.Int64("ledger_id", int64(clone.ID)))

	if !s.queue.Enqueue(clone.ID) {
		s.log.Warn("worker queue full, replay left for recovery sweep",
			zap.Int64("ledger_id", int64(clone.ID)))
	}
	return &clone, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.StripeEvent, error) {
	ev, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, domain.ErrEventNotFound
	}
	return ev, nil
}

func (s *Service) List(ctx context.Context, q domain.ListQuery) ([]domain.StripeEvent, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	return s.repo.List(ctx, s.db, q)
}

func (s *Service) RecoverStranded(ctx context.Context) (int, error) {
	now := s.clock.Now()
	stranded, err := s.repo.FindStranded(ctx, s.db, now.Add(-strandedGrace), now.Add(-claimedGrace))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stranded {
		ev := &stranded[i]
		if ev.Status == domain.StatusPending {
			// Release the dead worker's claim; the guarded flip loses to a
			// worker that finalized in the meantime.
			released, rerr := s.repo.Claim(ctx, s.db, ev.ID, domain.StatusPending, domain.StatusNew)
			if rerr != nil {
				return recovered, rerr
			}
			if !released {
				continue
			}
			s.log.Warn("released stale event claim",
				zap.String("event_id", ev.EventID),
				zap.Int64("ledger_id", int64(ev.ID)))
		}
		if s.queue.Enqueue(ev.ID) {
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Info("re-enqueued stranded events", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *Service) headerValue(ev *domain.StripeEvent, name string) string {
	for k, v := range ev.Headers {
		if strings.EqualFold(k, name) {
			if str, ok := v.(string); ok {
				return str
			}
		}
	}
	return ""
}
