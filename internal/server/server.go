package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	checkoutdomain "github.com/smallbiznis/enrollpay/internal/checkout/domain"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/idempotency"
	obslogger "github.com/smallbiznis/enrollpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/enrollpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/enrollpay/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	paymentservice "github.com/smallbiznis/enrollpay/internal/payment/service"
	"github.com/smallbiznis/enrollpay/internal/payment/webhook"
	"github.com/smallbiznis/enrollpay/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// PaymentOperations is the passthrough surface of the payment service.
type PaymentOperations interface {
	RetrieveIntent(ctx context.Context, id string, opts paymentdomain.RetrieveOptions) (*paymentdomain.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, id, paymentMethodToken, returnURL string) (*paymentdomain.PaymentIntent, error)
	CancelIntent(ctx context.Context, id string) (*paymentdomain.PaymentIntent, error)
	Refund(ctx context.Context, in paymentservice.RefundInput) (*paymentdomain.RefundResponse, error)
	CreateCustomer(ctx context.Context, in paymentdomain.CustomerInput) (*paymentdomain.Customer, error)
	RetrieveCustomer(ctx context.Context, id string) (*paymentdomain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in paymentdomain.CustomerInput) (*paymentdomain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]paymentdomain.PaymentMethod, error)
	PublicConfig(ctx context.Context) (*paymentservice.PublicConfig, error)
	CSPDomains(ctx context.Context) paymentdomain.CSPDomains
}

type WebhookIngester interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*webhook.Result, error)
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	checkout    checkoutdomain.Service
	payments    PaymentOperations
	webhooks    WebhookIngester
	idempotency *idempotency.Store
	limiter     *ratelimit.ChargeLimiter
	metrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Checkout    checkoutdomain.Service
	Payments    *paymentservice.Service
	Webhooks    *webhook.Service
	Idempotency *idempotency.Store       `optional:"true"`
	Limiter     *ratelimit.ChargeLimiter `optional:"true"`
	Metrics     *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		checkout:    p.Checkout,
		payments:    p.Payments,
		webhooks:    p.Webhooks,
		idempotency: p.Idempotency,
		limiter:     p.Limiter,
		metrics:     p.Metrics,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)

	api := s.engine.Group("/api", s.ContentSecurityPolicy())

	api.POST("/checkout", s.ChargeRateLimit("checkout"), s.Idempotent("checkout"), s.Checkout)

	payments := api.Group("/payments")
	{
		payments.GET("/config", s.GetPaymentConfig)
		payments.POST("/sessions", s.CreatePaymentSession)

		payments.GET("/intents/:id", s.GetPaymentIntent)
		payments.POST("/intents/:id/confirm", s.ChargeRateLimit("confirm"), s.Idempotent("confirm"), s.ConfirmPaymentIntent)
		payments.POST("/intents/:id/cancel", s.CancelPaymentIntent)
		payments.POST("/refunds", s.Idempotent("refund"), s.CreateRefund)

		payments.POST("/customers", s.CreateCustomer)
		payments.GET("/customers/:id", s.GetCustomer)
		payments.PATCH("/customers/:id", s.UpdateCustomer)
		payments.DELETE("/customers/:id", s.DeleteCustomer)
		payments.GET("/customers/:id/payment-methods", s.ListPaymentMethods)
	}
}
