package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

const (
	OutcomeOK            = "ok"
	OutcomeRejected      = "rejected"
	OutcomeUnavailable   = "unavailable"
	OutcomeConfiguration = "configuration"
	OutcomeValidation    = "validation"
	OutcomeUnknown       = "unknown"
)

const (
	LedgerReasonDeadlineExceeded     = "deadline_exceeded"
	LedgerReasonLockTimeout          = "db_lock_timeout"
	LedgerReasonSerializationFailure = "serialization_failure"
	LedgerReasonUniqueViolation      = "unique_violation"
	LedgerReasonNotFound             = "not_found"
	LedgerReasonUnknown              = "unknown"
)

// ProcessorMetrics records calls made to payment processors, exposed on /metrics.
type ProcessorMetrics struct {
	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ledgerErrors *prometheus.CounterVec
}

// NewProcessorMetrics registers the collectors on registerer, or on the default
// registry when registerer is nil.
func NewProcessorMetrics(cfg Config, registerer prometheus.Registerer) (*ProcessorMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "enrollpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enrollpay_processor_calls_total",
		Help:        "Payment processor calls by provider, operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "enrollpay_processor_call_duration_seconds",
		Help:        "Payment processor call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20},
		ConstLabels: constLabels,
	}, []string{"provider", "operation"})
	ledgerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "enrollpay_ledger_errors_total",
		Help:        "Ledger write failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})

	for _, c := range []prometheus.Collector{calls, duration, ledgerErrors} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return &ProcessorMetrics{
		calls:        calls,
		duration:     duration,
		ledgerErrors: ledgerErrors,
	}, nil
}

// ObserveCall records one processor call and its outcome.
func (m *ProcessorMetrics) ObserveCall(provider, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(provider, operation, ClassifyProcessorOutcome(err)).Inc()
	m.duration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// IncLedgerError counts a failed ledger write.
func (m *ProcessorMetrics) IncLedgerError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(operation, ClassifyLedgerReason(err)).Inc()
}

// ClassifyProcessorOutcome maps a processor error to a metric label.
func ClassifyProcessorOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrProcessorRejected):
		return OutcomeRejected
	case errors.Is(err, domain.ErrProcessorUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return OutcomeUnavailable
	case errors.Is(err, domain.ErrConfiguration):
		return OutcomeConfiguration
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMissingPaymentContext):
		return OutcomeValidation
	default:
		return OutcomeUnknown
	}
}

// ClassifyLedgerReason maps a database error to a metric label.
func ClassifyLedgerReason(err error) string {
	if err == nil {
		return LedgerReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return LedgerReasonDeadlineExceeded
	}
	if errors.Is(err, domain.ErrPaymentNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return LedgerReasonNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return LedgerReasonUniqueViolation
	}
	if hasPGCode(err, "55P03") {
		return LedgerReasonLockTimeout
	}
	if hasPGCode(err, "40001") {
		return LedgerReasonSerializationFailure
	}
	return LedgerReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
