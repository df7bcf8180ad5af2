package adapters_test

import (
	"errors"
	"testing"

	"github.com/smallbiznis/enrollpay/internal/payment/adapters"
	"github.com/smallbiznis/enrollpay/internal/payment/adapters/square"
	"github.com/smallbiznis/enrollpay/internal/payment/adapters/stripe"
	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := adapters.NewRegistry(stripe.NewFactory(), square.NewFactory())

	if got := r.Providers(); len(got) != 2 || got[0] != "square" || got[1] != "stripe" {
		t.Fatalf("unexpected providers %v", got)
	}
	if !r.ProviderExists(" Square ") {
		t.Fatalf("expected square to be registered")
	}
	if _, err := r.NewAdapter("paypal", domain.AdapterConfig{}); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := adapters.NewRegistry(stripe.NewFactory())
	if err := r.Register(stripe.NewFactory()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected NewRegistry to panic on duplicates")
		}
	}()
	adapters.NewRegistry(square.NewFactory(), square.NewFactory())
}

func TestNilRegistry(t *testing.T) {
	var r *adapters.Registry
	if r.ProviderExists("stripe") || r.Providers() != nil {
		t.Fatalf("nil registry must be empty")
	}
}
