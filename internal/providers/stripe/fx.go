package stripe

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/clock"
	"github.com/smallbiznis/substation/internal/config"
)

// New picks the gateway implementation from configuration. The literal API
// key "mock" selects the in-memory gateway.
func New(cfg config.Config, billing *config.BillingConfigHolder, clk clock.Clock, log *zap.Logger) Gateway {
	if cfg.StripeAPIKey == "mock" {
		log.Info("payment gateway running in mock mode")
		return NewMock(clk, log)
	}
	return NewClient(cfg, billing, log)
}

var Module = fx.Module("providers.stripe",
	fx.Provide(New),
)
