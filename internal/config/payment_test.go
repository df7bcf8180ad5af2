package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestPaymentSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payment.yml")
	content := []byte(`payment:
  provider: Square
  currency: cad
  pricing:
    group:
      first: 10000
      subsequent: 8000
    yearly:
      first: 100000
      subsequent: 80000
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg := Config{Payment: PaymentConfig{DefaultProvider: "stripe", SettingsPath: path}}
	holder, err := NewPaymentSettingsHolder(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}

	got := holder.Get()
	if got.Provider != "square" || got.Currency != "CAD" {
		t.Fatalf("unexpected settings %+v", got)
	}
	if got.Pricing["group"].First != 10000 || got.Pricing["yearly"].Subsequent != 80000 {
		t.Fatalf("unexpected pricing %+v", got.Pricing)
	}
}

func TestPaymentSettingsStoreRejectsInvalid(t *testing.T) {
	holder, err := NewStaticPaymentSettingsHolder(DefaultPaymentSettings("stripe"))
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}

	bad := DefaultPaymentSettings("square")
	bad.Pricing = map[string]PricingTier{"group": {First: 1000}}
	if err := holder.Store(bad); err == nil {
		t.Fatalf("expected missing yearly pricing to be rejected")
	}
	if holder.Get().Provider != "stripe" {
		t.Fatalf("expected previous settings to survive invalid store")
	}

	if err := holder.Store(DefaultPaymentSettings("square")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if holder.Get().Provider != "square" {
		t.Fatalf("expected provider switch, got %q", holder.Get().Provider)
	}
}

func TestProviderSettingsOmitsMissingValues(t *testing.T) {
	cfg := Config{Payment: PaymentConfig{
		Stripe: StripeConfig{SecretKey: "sk_test_1"},
		Square: SquareConfig{AccessToken: "tok", Environment: "sandbox"},
	}}

	stripe := cfg.ProviderSettings("stripe")
	if stripe["secret_key"] != "sk_test_1" {
		t.Fatalf("expected secret key, got %v", stripe)
	}
	if _, ok := stripe["webhook_secret"]; ok {
		t.Fatalf("expected missing webhook secret to be omitted")
	}

	square := cfg.ProviderSettings("SQUARE")
	if square["access_token"] != "tok" || square["environment"] != "sandbox" {
		t.Fatalf("unexpected square settings %v", square)
	}
	if len(cfg.ProviderSettings("paypal")) != 0 {
		t.Fatalf("expected no settings for unknown provider")
	}
}
