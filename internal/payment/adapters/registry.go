package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

// Registry maps a provider id to the factory that builds its adapter.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

// NewRegistry panics on a duplicate or empty provider id, like http.ServeMux
// does for duplicate patterns.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(f domain.AdapterFactory) error {
	if f == nil {
		return fmt.Errorf("payment adapter factory is nil")
	}
	id := normalize(f.Provider())
	if id == "" {
		return fmt.Errorf("payment adapter factory %T has no provider id", f)
	}
	if _, dup := r.factories[id]; dup {
		return fmt.Errorf("payment provider %q registered twice", id)
	}
	r.factories[id] = f
	return nil
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.lookup(provider)
	return ok
}

// Providers lists registered ids in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewAdapter builds a fresh adapter. Callers cache the result.
func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Provider, error) {
	f, ok := r.lookup(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, provider)
	}
	cfg.Provider = normalize(provider)
	return f.NewAdapter(cfg)
}

func (r *Registry) lookup(provider string) (domain.AdapterFactory, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.factories[normalize(provider)]
	return f, ok
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
