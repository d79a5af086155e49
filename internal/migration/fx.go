package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/substation/internal/config"
	customerdomain "github.com/smallbiznis/substation/internal/customer/domain"
	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	"github.com/smallbiznis/substation/internal/seed"
	subscriptiondomain "github.com/smallbiznis/substation/internal/subscription/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, billing *config.BillingConfigHolder) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Versioned SQL only targets Postgres; local sqlite and mysql
			// setups derive the schema from the models.
			err := conn.AutoMigrate(
				&plandomain.Plan{},
				&plandomain.Limit{},
				&plandomain.PlanLimit{},
				&customerdomain.Customer{},
				&subscriptiondomain.Record{},
				&eventdomain.StripeEvent{},
			)
			if err != nil {
				return err
			}
		}

		return seed.EnsureDefaults(conn, billing.Get())
	}),
)
