package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/enrollpay/internal/idempotency"
	"github.com/smallbiznis/enrollpay/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// Charge requests are small; anything larger is not a checkout form.
	maxIdempotentBody = 1 << 20
)

// ContentSecurityPolicy allows the active provider's SDK origins on every response.
func (s *Server) ContentSecurityPolicy() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", buildCSP(s.payments.CSPDomains(c.Request.Context())))
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func buildCSP(d paymentdomain.CSPDomains) string {
	directive := func(name string, base []string, extra []string) string {
		parts := append([]string{name}, base...)
		parts = append(parts, extra...)
		return strings.Join(parts, " ")
	}
	return strings.Join([]string{
		"default-src 'self'",
		directive("script-src", []string{"'self'"}, d.Script),
		directive("connect-src", []string{"'self'"}, d.Connect),
		directive("frame-src", []string{"'self'"}, d.Frame),
		directive("style-src", []string{"'self'", "'unsafe-inline'"}, d.Style),
		directive("font-src", []string{"'self'"}, d.Font),
		directive("img-src", []string{"'self'", "data:"}, d.Img),
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors 'self'",
	}, "; ")
}

// ChargeRateLimit throttles per client IP. Redis errors fail closed.
func (s *Server) ChargeRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, endpoint, c.ClientIP())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("charge rate limit check failed", zap.String("endpoint", endpoint), zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.metrics.RecordRateLimitDenied(ctx, endpoint, "client-rate")
			retry := int(res.RetryAfter.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// Idempotent replays the stored response for a repeated Idempotency-Key and
// hands the key to the processor call.
func (s *Server) Idempotent(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		ctx := paymentdomain.WithIdempotencyKey(c.Request.Context(), key)
		c.Request = c.Request.WithContext(ctx)

		if !s.idempotency.Enabled() {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIdempotentBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				AbortWithError(c, invalidRequestError("body", "request body is too large"))
				return
			}
			AbortWithError(c, invalidRequestError("body", "request body could not be read"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := idempotency.Fingerprint(c.Request.Method, c.Request.URL.Path, body)
		stored, reservation, err := s.idempotency.Begin(ctx, scope, key, fingerprint)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if stored != nil {
			c.Header(headerReplayed, "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		if len(c.Errors) > 0 || recorder.Status() >= http.StatusInternalServerError {
			reservation.Abort(ctx)
			return
		}
		if err := reservation.Complete(ctx, recorder.Status(), recorder.Header().Get("Content-Type"), recorder.body.Bytes()); err != nil {
			logger.WithContext(ctx, s.log).Warn("store idempotent response failed", zap.String("scope", scope), zap.Error(err))
		}
	}
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
