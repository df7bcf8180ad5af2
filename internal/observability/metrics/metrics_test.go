package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("payment_id", "456"),
		attribute.String("event_type", "payment.succeeded"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "payment_id" {
			t.Fatalf("expected payment_id to be dropped")
		}
	}
}

func TestNoopMetricsAcceptRecords(t *testing.T) {
	m := NewNoop()
	ctx := context.Background()
	m.RecordPaymentIntent(ctx, "stripe", "pending")
	m.RecordPaymentEvent(ctx, "square", "payment.succeeded")
	m.RecordCompensation(ctx, "stripe", "canceled")
	m.RecordRateLimitDenied(ctx, "/api/checkout", "bucket_empty")

	var nilMetrics *Metrics
	nilMetrics.RecordCompensation(ctx, "stripe", "canceled")
}

func TestPaymentEventCounterExportsTrimmedLabels(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m, err := New(Config{ServiceName: "enrollpay"}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPaymentEvent(ctx, " square ", "payment.succeeded")
	m.RecordPaymentEvent(ctx, "square", "payment.succeeded")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "enrollpay_payment_events_total" {
				continue
			}
			sum := md.Data.(metricdata.Sum[int64])
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
				t.Fatalf("expected one series with value 2, got %+v", sum.DataPoints)
			}
			if v, _ := sum.DataPoints[0].Attributes.Value("provider"); v.AsString() != "square" {
				t.Fatalf("expected trimmed provider label, got %q", v.AsString())
			}
			return
		}
	}
	t.Fatalf("payment events counter not exported")
}

func TestProcessorMetricsCountsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewProcessorMetrics(Config{ServiceName: "enrollpay", Environment: "test"}, registry)
	if err != nil {
		t.Fatalf("new processor metrics: %v", err)
	}

	m.ObserveCall("stripe", "create_intent", 20*time.Millisecond, nil)
	m.ObserveCall("stripe", "create_intent", 30*time.Millisecond, domain.NewRejectedError("stripe", "card declined", nil))
	m.ObserveCall("stripe", "create_intent", time.Second, domain.NewUnavailableError("stripe", errors.New("timeout")))

	for outcome, want := range map[string]float64{OutcomeOK: 1, OutcomeRejected: 1, OutcomeUnavailable: 1} {
		got := testutil.ToFloat64(m.calls.WithLabelValues("stripe", "create_intent", outcome))
		if got != want {
			t.Fatalf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}

	if _, err := NewProcessorMetrics(Config{}, registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestClassifyLedgerReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, LedgerReasonDeadlineExceeded},
		{domain.ErrPaymentNotFound, LedgerReasonNotFound},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), LedgerReasonUniqueViolation},
		{&pgconn.PgError{Code: "40001"}, LedgerReasonSerializationFailure},
		{&pgconn.PgError{Code: "55P03"}, LedgerReasonLockTimeout},
		{errors.New("boom"), LedgerReasonUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyLedgerReason(tc.err); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.want, got)
		}
	}
}
