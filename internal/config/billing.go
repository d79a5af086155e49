package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries operator-tunable processing knobs. It lives in a
// billing.yml that can be volume-mounted and hot-reloaded without a restart.
type BillingConfig struct {
	WorkerCount                int `mapstructure:"workerCount"`
	QueueSize                  int `mapstructure:"queueSize"`
	SignatureToleranceSeconds  int `mapstructure:"signatureToleranceSeconds"`
	InvoiceRetryTimeoutSeconds int `mapstructure:"invoiceRetryTimeoutSeconds"`
	RecoverySweepSeconds       int `mapstructure:"recoverySweepSeconds"`

	DefaultPlanName string           `mapstructure:"defaultPlanName"`
	DefaultLimits   map[string]int64 `mapstructure:"defaultLimits"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		WorkerCount:                4,
		QueueSize:                  256,
		SignatureToleranceSeconds:  300,
		InvoiceRetryTimeoutSeconds: 30,
		RecoverySweepSeconds:       300,
		DefaultPlanName:            "Default (Free)",
		DefaultLimits:              map[string]int64{},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/substation/config")
	v.AddConfigPath("/etc/substation")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUBSTATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.workerCount", defaults.WorkerCount)
	v.SetDefault("billing.queueSize", defaults.QueueSize)
	v.SetDefault("billing.signatureToleranceSeconds", defaults.SignatureToleranceSeconds)
	v.SetDefault("billing.invoiceRetryTimeoutSeconds", defaults.InvoiceRetryTimeoutSeconds)
	v.SetDefault("billing.recoverySweepSeconds", defaults.RecoverySweepSeconds)
	v.SetDefault("billing.defaultPlanName", defaults.DefaultPlanName)
	v.SetDefault("billing.defaultLimits", defaults.DefaultLimits)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder is for tests that need fixed settings.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.WorkerCount <= 0 {
		return errors.New("billing.workerCount must be positive")
	}
	if cfg.QueueSize <= 0 {
		return errors.New("billing.queueSize must be positive")
	}
	if cfg.SignatureToleranceSeconds < 0 {
		return errors.New("billing.signatureToleranceSeconds cannot be negative")
	}
	return nil
}
