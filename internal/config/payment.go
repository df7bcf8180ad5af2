package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentSettings is the hot-reloadable part of the payment configuration.
type PaymentSettings struct {
	Provider string                 `mapstructure:"provider"`
	Currency string                 `mapstructure:"currency"`
	Pricing  map[string]PricingTier `mapstructure:"pricing"`
}

// PricingTier prices per student in minor units. The first student in a
// household pays First, each additional student pays Subsequent.
type PricingTier struct {
	First      int64 `mapstructure:"first"`
	Subsequent int64 `mapstructure:"subsequent"`
}

func DefaultPaymentSettings(provider string) PaymentSettings {
	if strings.TrimSpace(provider) == "" {
		provider = "stripe"
	}
	return PaymentSettings{
		Provider: provider,
		Currency: "CAD",
		Pricing: map[string]PricingTier{
			"group":  {First: 12000, Subsequent: 9000},
			"yearly": {First: 110000, Subsequent: 90000},
		},
	}
}

type PaymentSettingsHolder struct {
	current atomic.Value // holds PaymentSettings
	log     *zap.Logger
}

// NewPaymentSettingsHolder reads payment.yml and keeps watching it for changes.
func NewPaymentSettingsHolder(cfg Config, log *zap.Logger) (*PaymentSettingsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	if cfg.Payment.SettingsPath != "" {
		v.SetConfigFile(cfg.Payment.SettingsPath)
	} else {
		v.SetConfigName("payment")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/enrollpay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ENROLLPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentSettings(cfg.Payment.DefaultProvider)
	v.SetDefault("payment.provider", defaults.Provider)
	v.SetDefault("payment.currency", defaults.Currency)
	v.SetDefault("payment.pricing", defaults.Pricing)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var settings PaymentSettings
	if err := v.UnmarshalKey("payment", &settings); err != nil {
		return nil, err
	}

	holder := &PaymentSettingsHolder{log: log.Named("config.payment")}
	if err := holder.Store(settings); err != nil {
		return nil, err
	}

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PaymentSettings
			if err := v.UnmarshalKey("payment", &updated); err != nil {
				holder.log.Warn("payment settings reload failed", zap.Error(err))
				return
			}
			if err := holder.Store(updated); err != nil {
				holder.log.Warn("invalid payment settings ignored", zap.Error(err))
				return
			}
			holder.log.Info("payment settings reloaded",
				zap.String("file", e.Name),
				zap.String("provider", updated.Provider),
			)
		})
	}

	return holder, nil
}

// NewStaticPaymentSettingsHolder builds a holder without a backing file.
func NewStaticPaymentSettingsHolder(settings PaymentSettings) (*PaymentSettingsHolder, error) {
	holder := &PaymentSettingsHolder{log: zap.NewNop()}
	if err := holder.Store(settings); err != nil {
		return nil, err
	}
	return holder, nil
}

func (h *PaymentSettingsHolder) Get() PaymentSettings {
	return h.current.Load().(PaymentSettings)
}

// Store validates and swaps in new settings. Invalid settings leave the current ones in place.
func (h *PaymentSettingsHolder) Store(settings PaymentSettings) error {
	settings.Provider = strings.ToLower(strings.TrimSpace(settings.Provider))
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if err := validatePaymentSettings(settings); err != nil {
		return err
	}
	h.current.Store(settings)
	return nil
}

func validatePaymentSettings(s PaymentSettings) error {
	if s.Provider == "" {
		return errors.New("payment.provider cannot be empty")
	}
	if len(s.Currency) != 3 {
		return fmt.Errorf("payment.currency %q is not an ISO code", s.Currency)
	}
	for _, category := range []string{"group", "yearly"} {
		tier, ok := s.Pricing[category]
		if !ok {
			return fmt.Errorf("payment.pricing.%s is required", category)
		}
		if tier.First <= 0 || tier.Subsequent < 0 {
			return fmt.Errorf("payment.pricing.%s must have a positive first price", category)
		}
	}
	return nil
}
