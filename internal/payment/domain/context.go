package domain

import (
	"context"
	"strings"
)

type idempotencyKeyCtx struct{}

// WithIdempotencyKey carries a caller-supplied idempotency key down to the adapter call.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}
