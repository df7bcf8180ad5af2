package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/observability/logger"
	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	"github.com/smallbiznis/enrollpay/internal/observability/tracing"
)

// Module wires logging, tracing and both metric pipelines. OTLP carries the
// payment counters, prometheus carries per-processor call latency.
var Module = fx.Module("observability",
	fx.Provide(
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		func(cfg metrics.Config) (*metrics.ProcessorMetrics, error) {
			return metrics.NewProcessorMetrics(cfg, prometheus.DefaultRegisterer)
		},
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func serviceName(cfg config.Config) string {
	if cfg.AppName == "" {
		return "enrollpay"
	}
	return cfg.AppName
}

func loggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName: serviceName(cfg),
		Environment: cfg.Environment,
		Version:     cfg.AppVersion,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Verbose:     cfg.Verbose(),
	}
}

func tracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      serviceName(cfg),
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      serviceName(cfg),
		Environment:      cfg.Environment,
	}
}
