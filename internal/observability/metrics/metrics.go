package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP payment counters. A nil *Metrics records nothing.
type Metrics struct {
	intents     metric.Int64Counter
	events      metric.Int64Counter
	compensated metric.Int64Counter
	denied      metric.Int64Counter
}

// NewProvider installs the global meter provider. Disabled export gets a noop
// provider so instruments stay cheap.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp)

	if lc != nil {
		lc.Append(fx.StopHook(mp.Shutdown))
	}
	if log != nil {
		log.Info("payment metrics exporting", zap.String("protocol", cfg.ExporterProtocol), zap.String("endpoint", cfg.ExporterEndpoint))
	}
	return mp, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := cfg.ServiceName
	if scope == "" {
		scope = "enrollpay"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	for _, def := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.intents, "enrollpay_payment_intents_total", "Payment intents opened by checkout."},
		{&m.events, "enrollpay_payment_events_total", "Normalized processor webhook events applied."},
		{&m.compensated, "enrollpay_compensations_total", "Intents cancelled after the ledger write failed."},
		{&m.denied, "enrollpay_rate_limit_denied_total", "Charge requests refused by the rate limiter."},
	} {
		counter, err := meter.Int64Counter(def.name, metric.WithDescription(def.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.name, err)
		}
		*def.dst = counter
	}
	return m, nil
}

func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordPaymentIntent(ctx context.Context, provider, status string) {
	if m != nil {
		add(ctx, m.intents, attribute.String("provider", provider), attribute.String("status", status))
	}
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m != nil {
		add(ctx, m.events, attribute.String("provider", provider), attribute.String("event_type", eventType))
	}
}

func (m *Metrics) RecordCompensation(ctx context.Context, provider, reason string) {
	if m != nil {
		add(ctx, m.compensated, attribute.String("provider", provider), attribute.String("reason", reason))
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m != nil {
		add(ctx, m.denied, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
	}
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	for i := range attrs {
		attrs[i].Value = attribute.StringValue(strings.TrimSpace(attrs[i].Value.AsString()))
	}
	c.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Labels that cannot carry a payment, customer or intent id.
var allowedLabelKeys = map[attribute.Key]bool{
	"provider":   true,
	"status":     true,
	"event_type": true,
	"endpoint":   true,
	"reason":     true,
}

// FilterAttributes keeps only bounded, non-identifying labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			out = append(out, attr)
		}
	}
	return out
}
