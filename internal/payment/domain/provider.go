package domain

import (
	"context"
	"net/http"
	"strings"

	"github.com/smallbiznis/enrollpay/pkg/money"
)

// Provider is the only surface other packages use to talk to a payment processor.
type Provider interface {
	Name() string

	CreatePaymentIntent(ctx context.Context, input CreateIntentInput) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string, opts RetrieveOptions) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id, paymentMethodToken, returnURL string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error)

	CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	RetrieveCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomer(ctx context.Context, id string, input CustomerInput) (*Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)

	ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (*ParsedWebhookEvent, error)

	RequiresClientSecret() bool
	RequiresCheckoutURL() bool
	IsConfigured() bool
	DashboardURL(intentID string) string
	CSPDomains() CSPDomains
	// PublicConfig is what the browser SDK needs to initialise. Never secrets.
	PublicConfig() map[string]string
}

// LedgerAmount is the charge amount stored against a processor reference.
type LedgerAmount struct {
	PaymentID          string
	Total              money.Money
	Status             IntentStatus
	ProcessorPaymentID string
	CustomerID         string
}

// Chargeable reports whether the row may still be sent to the processor.
func (l LedgerAmount) Chargeable() bool {
	if l.ProcessorPaymentID != "" {
		return false
	}
	return l.Status == "" || l.Status == IntentStatusPending
}

// LedgerReader lets token-model adapters resolve the amount to charge server-side.
type LedgerReader interface {
	FindAmountByIntentID(ctx context.Context, intentID string) (*LedgerAmount, error)
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
	Ledger   LedgerReader
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Provider, error)
}

// ReadString returns a trimmed, non-empty string value from an adapter config map.
func ReadString(cfg map[string]any, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	raw, ok := cfg[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
