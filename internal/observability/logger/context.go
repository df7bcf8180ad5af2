package logger

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	providerKey
	paymentIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithProvider tags the context with the payment provider handling the request.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, strings.TrimSpace(provider))
}

func ProviderFromContext(ctx context.Context) string {
	return stringValue(ctx, providerKey)
}

// WithPaymentID tags the context with the ledger row being charged.
func WithPaymentID(ctx context.Context, paymentID string) context.Context {
	return context.WithValue(ctx, paymentIDKey, strings.TrimSpace(paymentID))
}

func PaymentIDFromContext(ctx context.Context) string {
	return stringValue(ctx, paymentIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
