package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const headerRequestID = "X-Request-Id"

type MiddlewareConfig struct {
	// ErrorClassifier names the last handler error on the access log line.
	ErrorClassifier func(err error) string
}

// GinMiddleware tags each request with an id and writes one access log line.
// Probe routes log at debug.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = ulid.Make().String()
		}
		c.Header(headerRequestID, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if provider := c.GetString("payment_provider"); provider != "" {
			fields = append(fields, zap.String("provider", provider))
		}
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			fields = append(fields, Masked("idempotency_key", key))
		}
		if c.Writer.Header().Get("Idempotent-Replayed") != "" {
			fields = append(fields, zap.Bool("replayed", true))
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			fields = append(fields, zap.String("error_type", cfg.ErrorClassifier(last.Err)))
		}

		level := zapcore.InfoLevel
		switch {
		case route == "/health" || route == "/metrics":
			level = zapcore.DebugLevel
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status == http.StatusTooManyRequests:
			level = zapcore.WarnLevel
		}
		if ce := FromContext(c.Request.Context()).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
