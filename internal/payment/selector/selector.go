package selector

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	"github.com/smallbiznis/enrollpay/internal/payment/adapters"
	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

// SettingsSource yields the currently configured provider id.
type SettingsSource interface {
	Get() config.PaymentSettings
}

// CredentialsFunc returns the adapter config map for a provider id.
type CredentialsFunc func(provider string) map[string]any

type Params struct {
	fx.In

	Registry *adapters.Registry
	Settings *config.PaymentSettingsHolder
	Cfg      config.Config
	Ledger   domain.LedgerReader
	Log      *zap.Logger
	Metrics  *metrics.ProcessorMetrics `optional:"true"`
}

// Selector resolves the active provider and caches built adapters until the
// configured provider id changes.
type Selector struct {
	registry    *adapters.Registry
	settings    SettingsSource
	credentials CredentialsFunc
	ledger      domain.LedgerReader
	log         *zap.Logger
	metrics     *metrics.ProcessorMetrics

	mu         sync.RWMutex
	activeName string
	cache      map[string]domain.Provider
	group      singleflight.Group
}

func NewSelector(p Params) *Selector {
	s := New(p.Registry, p.Settings, p.Cfg.ProviderSettings, p.Ledger, p.Log)
	s.metrics = p.Metrics
	return s
}

func New(registry *adapters.Registry, settings SettingsSource, credentials CredentialsFunc, ledger domain.LedgerReader, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		registry:    registry,
		settings:    settings,
		credentials: credentials,
		ledger:      ledger,
		log:         log.Named("payment.selector"),
		cache:       map[string]domain.Provider{},
	}
}

// Provider returns the adapter for the currently configured provider.
func (s *Selector) Provider(ctx context.Context) (domain.Provider, error) {
	name := normalize(s.settings.Get().Provider)
	if name == "" {
		return nil, &domain.Error{Kind: domain.ErrConfiguration, Field: "payment.provider", Message: "no payment provider configured"}
	}

	s.mu.RLock()
	if s.activeName == name {
		if provider, ok := s.cache[name]; ok {
			s.mu.RUnlock()
			return provider, nil
		}
	}
	s.mu.RUnlock()

	provider, err := s.load(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.activeName != name {
		if s.activeName != "" {
			s.log.Info("payment provider changed",
				zap.String("from", s.activeName),
				zap.String("to", name),
			)
		}
		s.activeName = name
		s.cache = map[string]domain.Provider{name: provider}
	}
	s.mu.Unlock()
	return provider, nil
}

// ProviderFor returns the adapter for a specific provider id, used to route
// webhooks that arrive for a provider other than the active one.
func (s *Selector) ProviderFor(ctx context.Context, name string) (domain.Provider, error) {
	name = normalize(name)
	if !s.registry.ProviderExists(name) {
		return nil, domain.ErrProviderNotFound
	}
	if name == normalize(s.settings.Get().Provider) {
		return s.Provider(ctx)
	}
	return s.load(name)
}

// ActiveName is the id of the provider currently configured.
func (s *Selector) ActiveName() string {
	return normalize(s.settings.Get().Provider)
}

func (s *Selector) load(name string) (domain.Provider, error) {
	s.mu.RLock()
	if provider, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return provider, nil
	}
	s.mu.RUnlock()

	value, err, _ := s.group.Do(name, func() (any, error) {
		provider, err := s.registry.NewAdapter(name, domain.AdapterConfig{
			Provider: name,
			Config:   s.credentials(name),
			Ledger:   s.ledger,
		})
		if err != nil {
			s.log.Error("payment provider construction failed", zap.String("provider", name), zap.Error(err))
			return nil, err
		}
		provider = instrument(provider, s.metrics)
		s.mu.Lock()
		s.cache[name] = provider
		s.mu.Unlock()
		s.log.Info("payment provider initialized", zap.String("provider", name))
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(domain.Provider), nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
