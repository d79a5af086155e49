package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/config"
	"github.com/smallbiznis/substation/internal/customer"
	customerdomain "github.com/smallbiznis/substation/internal/customer/domain"
	"github.com/smallbiznis/substation/internal/event"
	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
	"github.com/smallbiznis/substation/internal/observability/metrics"
	"github.com/smallbiznis/substation/internal/plan"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	stripeprovider "github.com/smallbiznis/substation/internal/providers/stripe"
	"github.com/smallbiznis/substation/internal/subscription"
	"github.com/smallbiznis/substation/internal/worker"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	stripeprovider.Module,
	plan.Module,
	subscription.Module,
	customer.Module,
	event.Module,
	worker.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	genID       *snowflake.Node
	customerSvc customerdomain.Service
	planSvc     plandomain.Service
	eventSvc    eventdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	GenID       *snowflake.Node
	CustomerSvc customerdomain.Service
	PlanSvc     plandomain.Service
	EventSvc    eventdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		genID:       p.GenID,
		customerSvc: p.CustomerSvc,
		planSvc:     p.PlanSvc,
		eventSvc:    p.EventSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/webhooks/stripe", s.IngestStripeWebhook)

	v1 := r.Group("/v1")
	{
		accounts := v1.Group("/accounts/:account_id")
		accounts.GET("/billing", s.GetBillingState)
		accounts.GET("/limits/:name", s.GetLimit)
		accounts.POST("/subscription", s.CreateSubscription)
		accounts.DELETE("/subscription", s.CancelSubscription)
		accounts.POST("/subscription/reactivate", s.ReactivateSubscription)
		accounts.PUT("/payment-method", s.ReplacePaymentMethod)

		hooks := v1.Group("/hooks")
		hooks.POST("/account-saved", s.AccountSaved)
		hooks.POST("/account-deleted", s.AccountDeleted)

		plans := v1.Group("/plans")
		plans.POST("", s.CreatePlan)
		plans.GET("/:id", s.GetPlan)
		plans.PATCH("/:id", s.UpdatePlan)
		plans.PUT("/:id/limits/:name", s.SetPlanLimit)

		v1.POST("/limits", s.DefineLimit)

		admin := v1.Group("/admin")
		admin.GET("/events", s.ListEvents)
		admin.GET("/events/:id", s.GetEvent)
		admin.POST("/events/:id/replay", s.ReplayEvent)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
