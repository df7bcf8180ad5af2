package selector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	"github.com/smallbiznis/enrollpay/internal/observability/tracing"
	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

// instrumented wraps an adapter so every processor call gets a span and a
// latency/outcome sample. Local capability lookups pass straight through.
type instrumented struct {
	domain.Provider
	metrics *metrics.ProcessorMetrics
	tracer  trace.Tracer
}

func instrument(p domain.Provider, m *metrics.ProcessorMetrics) domain.Provider {
	if m == nil {
		return p
	}
	return &instrumented{Provider: p, metrics: m, tracer: otel.Tracer("enrollpay/payment")}
}

func (i *instrumented) observe(ctx context.Context, operation string, fn func(context.Context) error) {
	ctx, span := i.tracer.Start(ctx, "processor."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.provider", i.Name()),
		attribute.String("payment.operation", operation),
	)...)
	start := time.Now()
	err := fn(ctx)
	i.metrics.ObserveCall(i.Name(), operation, time.Since(start), err)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, metrics.ClassifyProcessorOutcome(err))
	}
	span.End()
}

func (i *instrumented) CreatePaymentIntent(ctx context.Context, input domain.CreateIntentInput) (out *domain.PaymentIntent, err error) {
	i.observe(ctx, "create_intent", func(ctx context.Context) error {
		out, err = i.Provider.CreatePaymentIntent(ctx, input)
		return err
	})
	return out, err
}

func (i *instrumented) RetrievePaymentIntent(ctx context.Context, id string, opts domain.RetrieveOptions) (out *domain.PaymentIntent, err error) {
	i.observe(ctx, "retrieve_intent", func(ctx context.Context) error {
		out, err = i.Provider.RetrievePaymentIntent(ctx, id, opts)
		return err
	})
	return out, err
}

func (i *instrumented) ConfirmPaymentIntent(ctx context.Context, id, token, returnURL string) (out *domain.PaymentIntent, err error) {
	i.observe(ctx, "confirm_intent", func(ctx context.Context) error {
		out, err = i.Provider.ConfirmPaymentIntent(ctx, id, token, returnURL)
		return err
	})
	return out, err
}

func (i *instrumented) CancelPaymentIntent(ctx context.Context, id string) (out *domain.PaymentIntent, err error) {
	i.observe(ctx, "cancel_intent", func(ctx context.Context) error {
		out, err = i.Provider.CancelPaymentIntent(ctx, id)
		return err
	})
	return out, err
}

func (i *instrumented) CreateRefund(ctx context.Context, req domain.RefundRequest) (out *domain.RefundResponse, err error) {
	i.observe(ctx, "create_refund", func(ctx context.Context) error {
		out, err = i.Provider.CreateRefund(ctx, req)
		return err
	})
	return out, err
}

func (i *instrumented) CreateCustomer(ctx context.Context, input domain.CustomerInput) (out *domain.Customer, err error) {
	i.observe(ctx, "create_customer", func(ctx context.Context) error {
		out, err = i.Provider.CreateCustomer(ctx, input)
		return err
	})
	return out, err
}

func (i *instrumented) RetrieveCustomer(ctx context.Context, id string) (out *domain.Customer, err error) {
	i.observe(ctx, "retrieve_customer", func(ctx context.Context) error {
		out, err = i.Provider.RetrieveCustomer(ctx, id)
		return err
	})
	return out, err
}

func (i *instrumented) UpdateCustomer(ctx context.Context, id string, input domain.CustomerInput) (out *domain.Customer, err error) {
	i.observe(ctx, "update_customer", func(ctx context.Context) error {
		out, err = i.Provider.UpdateCustomer(ctx, id, input)
		return err
	})
	return out, err
}

func (i *instrumented) DeleteCustomer(ctx context.Context, id string) (err error) {
	i.observe(ctx, "delete_customer", func(ctx context.Context) error {
		err = i.Provider.DeleteCustomer(ctx, id)
		return err
	})
	return err
}

func (i *instrumented) ListPaymentMethods(ctx context.Context, customerID string) (out []domain.PaymentMethod, err error) {
	i.observe(ctx, "list_payment_methods", func(ctx context.Context) error {
		out, err = i.Provider.ListPaymentMethods(ctx, customerID)
		return err
	})
	return out, err
}
