package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"

	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/observability/logger"
)

var Module = fx.Module("db",
	fx.Provide(FromAppConfig),
	fx.Provide(New),
)

func FromAppConfig(cfg config.Config) Config {
	return Config{
		Driver:   cfg.DBType,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		SSLMode:  cfg.DBSSLMode,
		Pool: PoolConfig{
			MaxIdle:     cfg.DBMaxIdleConn,
			MaxOpen:     cfg.DBMaxOpenConn,
			MaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
			MaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
		},
	}
}

// poolStatsInterval is how often pool gauges are refreshed, in seconds.
const poolStatsInterval = 15

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Log       *zap.Logger
	Tracer    *sdktrace.TracerProvider `optional:"true"`
}

func New(p Params) (*gorm.DB, error) {
	lc, cfg, log := p.Lifecycle, p.Config, p.Log
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(gormlogger.Warn, 200*time.Millisecond),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	var tp trace.TracerProvider
	if p.Tracer != nil {
		tp = p.Tracer
	}
	if err := Instrument(conn, cfg, tp); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	cfg.Pool.apply(sqlDB)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("ping %s ledger database: %w", cfg.Driver, err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			log.Info("closing ledger database pool", zap.String("driver", cfg.Driver))
			return sqlDB.Close()
		},
	})
	return conn, nil
}

// Instrument adds ledger query spans and connection pool gauges. Pool gauges
// land in the default prometheus registry served on /metrics.
func Instrument(conn *gorm.DB, cfg Config, tp trace.TracerProvider) error {
	opts := []otelgorm.Option{
		otelgorm.WithDBName(cfg.Name),
		otelgorm.WithoutQueryVariables(),
	}
	if tp != nil {
		opts = append(opts, otelgorm.WithTracerProvider(tp))
	}
	if err := conn.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("register query tracing: %w", err)
	}

	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          cfg.Name,
		RefreshInterval: poolStatsInterval,
	})); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}
	return nil
}
