package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	checkoutdomain "github.com/smallbiznis/enrollpay/internal/checkout/domain"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/idempotency"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	paymentservice "github.com/smallbiznis/enrollpay/internal/payment/service"
	"github.com/smallbiznis/enrollpay/internal/payment/webhook"
	"github.com/smallbiznis/enrollpay/internal/ratelimit"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

type fakeCheckout struct {
	mu      sync.Mutex
	calls   int
	last    checkoutdomain.CheckoutRequest
	lastKey string
	err     error
	secret  bool
}

func (f *fakeCheckout) CreateSession(_ context.Context, req checkoutdomain.CreateSessionRequest) (*checkoutdomain.Session, error) {
	zero, _ := money.Zero(req.Currency)
	return &checkoutdomain.Session{PaymentID: "1", OrderID: req.OrderID, Category: req.Category, Status: "pending", Subtotal: zero, Tax: zero, Total: zero}, nil
}

func (f *fakeCheckout) Checkout(ctx context.Context, req checkoutdomain.CheckoutRequest) (*checkoutdomain.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	f.lastKey = paymentdomain.IdempotencyKeyFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	total, _ := money.FromMinorUnits(9999, "CAD")
	zero, _ := money.Zero("CAD")
	return &checkoutdomain.CheckoutResult{
		PaymentID:            req.PaymentID,
		IntentID:             "pi_1",
		ClientToken:          "pi_1_secret",
		Provider:             "stripe",
		Subtotal:             total,
		Tax:                  zero,
		Total:                total,
		RequiresClientSecret: f.secret,
	}, nil
}

type fakePayments struct {
	PaymentOperations
	csp paymentdomain.CSPDomains
	err error
}

func (f *fakePayments) CSPDomains(context.Context) paymentdomain.CSPDomains { return f.csp }

func (f *fakePayments) PublicConfig(context.Context) (*paymentservice.PublicConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &paymentservice.PublicConfig{Provider: "stripe", RequiresClientSecret: true, Configured: true, Keys: map[string]string{"publishable_key": "pk_test"}}, nil
}

func (f *fakePayments) RetrieveIntent(_ context.Context, id string, opts paymentdomain.RetrieveOptions) (*paymentdomain.PaymentIntent, error) {
	if !opts.IncludeLatestCharge {
		return nil, errors.New("expand not parsed")
	}
	amount, _ := money.FromMinorUnits(9999, "CAD")
	return &paymentdomain.PaymentIntent{ID: id, Status: paymentdomain.IntentStatusSucceeded, Amount: amount}, nil
}

type fakeWebhooks struct {
	payload []byte
	headers http.Header
	result  *webhook.Result
	err     error
}

func (f *fakeWebhooks) Ingest(_ context.Context, provider string, payload []byte, headers http.Header) (*webhook.Result, error) {
	f.payload = payload
	f.headers = headers
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testServer struct {
	*Server
	checkout *fakeCheckout
	payments *fakePayments
	webhooks *fakeWebhooks
}

func newTestServer(t *testing.T, rdb *redis.Client, perMinute int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		checkout: &fakeCheckout{secret: true},
		payments: &fakePayments{csp: paymentdomain.CSPDomains{Script: []string{"https://js.stripe.com"}, Frame: []string{"https://js.stripe.com"}}},
		webhooks: &fakeWebhooks{result: &webhook.Result{Outcome: webhook.OutcomeProcessed}},
	}
	cfg := config.Config{Limits: config.LimitConfig{CheckoutPerMinute: perMinute, IdempotencyTTLSec: 60}}
	ts.Server = &Server{
		engine:   NewEngine(),
		cfg:      cfg,
		log:      zap.NewNop(),
		checkout: ts.checkout,
		payments: ts.payments,
		webhooks: ts.webhooks,
	}
	if rdb != nil {
		ts.Server.idempotency = idempotency.NewStore(cfg, rdb, zap.NewNop())
		ts.Server.limiter = ratelimit.NewChargeLimiter(cfg, rdb)
	}
	ts.registerRoutes()
	return ts
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

const checkoutBody = `{"payment_id":"42","category":"group","currency":"CAD","students":[{"id":"s1"}],"amount":1}`

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", paymentdomain.NewValidationError("students", "at least one student is required"), http.StatusBadRequest, "validation_error"},
		{"rejected", paymentdomain.NewRejectedError("stripe", "Your card was declined.", nil), http.StatusPaymentRequired, "payment_rejected"},
		{"unavailable", paymentdomain.NewUnavailableError("square", errors.New("timeout")), http.StatusServiceUnavailable, "processor_unavailable"},
		{"signature", paymentdomain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{"malformed", &paymentdomain.Error{Kind: paymentdomain.ErrMalformedPayload}, http.StatusBadRequest, "malformed_payload"},
		{"missing context", paymentdomain.ErrMissingPaymentContext, http.StatusConflict, "missing_payment_context"},
		{"configuration", paymentdomain.NewConfigurationError("stripe", "secret_key"), http.StatusInternalServerError, "payment_unavailable"},
		{"ledger", &paymentdomain.Error{Kind: paymentdomain.ErrLedgerPersistenceFailed, Err: errors.New("pq: relation payments does not exist")}, http.StatusInternalServerError, "payment_unavailable"},
		{"provider", paymentdomain.ErrProviderNotFound, http.StatusNotFound, "not_found"},
		{"not supported", fmt.Errorf("list payment methods: %w", paymentdomain.ErrNotSupported), http.StatusNotImplemented, "not_supported"},
		{"in flight", idempotency.ErrInFlight, http.StatusConflict, "idempotency_conflict"},
		{"reused", idempotency.ErrKeyReused, http.StatusUnprocessableEntity, "idempotency_key_reused"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.typ, payload.Type)
		})
	}

	_, payload := mapError(paymentdomain.NewRejectedError("stripe", "Your card was declined.", nil))
	assert.Equal(t, "Your card was declined.", payload.Message)

	_, payload = mapError(paymentdomain.NewUnavailableError("square", nil))
	assert.True(t, payload.Retryable)
}

func TestCheckoutReturnsClientSecret(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	w := ts.do(http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pi_1_secret", resp.ClientSecret)
	assert.Empty(t, resp.ReferenceID)
	assert.Equal(t, int64(9999), resp.Total.Amount)
	assert.Equal(t, checkoutdomain.CategoryGroup, ts.checkout.last.Category)
	assert.Equal(t, int64(1), ts.checkout.last.Amount)
}

func TestCheckoutTokenModelReturnsReference(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.checkout.secret = false

	w := ts.do(http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.ClientSecret)
	assert.Equal(t, "pi_1_secret", resp.ReferenceID)
}

func TestCheckoutLedgerFailureHidesDetail(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.checkout.err = &paymentdomain.Error{Kind: paymentdomain.ErrLedgerPersistenceFailed, Err: errors.New("pq: deadlock detected")}

	w := ts.do(http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, supportMessage, decodeError(t, w).Message)
	assert.NotContains(t, w.Body.String(), "deadlock")
}

func TestCheckoutRejectsUnknownCategory(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	w := ts.do(http.MethodPost, "/api/checkout", `{"category":"gift","currency":"CAD"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, ts.checkout.calls)
}

func TestIdempotentCheckoutReplays(t *testing.T) {
	ts := newTestServer(t, newRedis(t), 0)
	headers := map[string]string{HeaderIdempotencyKey: "idem-abc"}

	first := ts.do(http.MethodPost, "/api/checkout", checkoutBody, headers)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "idem-abc", ts.checkout.lastKey)

	second := ts.do(http.MethodPost, "/api/checkout", checkoutBody, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(headerReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, ts.checkout.calls)

	other := ts.do(http.MethodPost, "/api/checkout", strings.Replace(checkoutBody, `"42"`, `"43"`, 1), headers)
	assert.Equal(t, http.StatusUnprocessableEntity, other.Code)
	assert.Equal(t, 1, ts.checkout.calls)
}

func TestIdempotentCheckoutRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, newRedis(t), 0)
	headers := map[string]string{HeaderIdempotencyKey: "idem-big"}
	body := `{"payment_id":"42","description":"` + strings.Repeat("x", maxIdempotentBody) + `"}`

	w := ts.do(http.MethodPost, "/api/checkout", body, headers)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "request body is too large", payload.Errors[0].Message)
	assert.Equal(t, 0, ts.checkout.calls)
}

func TestIdempotentCheckoutFailureIsRetryable(t *testing.T) {
	ts := newTestServer(t, newRedis(t), 0)
	ts.checkout.err = paymentdomain.NewUnavailableError("stripe", errors.New("timeout"))
	headers := map[string]string{HeaderIdempotencyKey: "idem-retry"}

	w := ts.do(http.MethodPost, "/api/checkout", checkoutBody, headers)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts.checkout.err = nil
	w = ts.do(http.MethodPost, "/api/checkout", checkoutBody, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(headerReplayed))
	assert.Equal(t, 2, ts.checkout.calls)
}

func TestCheckoutRateLimited(t *testing.T) {
	ts := newTestServer(t, newRedis(t), 1)

	w := ts.do(http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/api/checkout", checkoutBody, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 1, ts.checkout.calls)
}

func TestContentSecurityPolicyUsesProviderDomains(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	w := ts.do(http.MethodGet, "/api/payments/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self' https://js.stripe.com")
	assert.Contains(t, csp, "frame-src 'self' https://js.stripe.com")
	assert.Contains(t, csp, "object-src 'none'")
	assert.Contains(t, w.Body.String(), `"publishable_key":"pk_test"`)
}

func TestGetIntentParsesExpand(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	w := ts.do(http.MethodGet, "/api/payments/intents/pi_9?expand=latest_charge,payment_method", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"succeeded"`)
}

func TestWebhookForwardsRawBody(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	body := `{"id":"evt_1",  "type":"payment_intent.succeeded"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, string(ts.webhooks.payload))
	assert.Equal(t, "t=1,v1=abc", ts.webhooks.headers.Get("Stripe-Signature"))
}

func TestWebhookInvalidSignature(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.webhooks.err = &paymentdomain.Error{Kind: paymentdomain.ErrInvalidSignature}

	w := ts.do(http.MethodPost, "/webhooks/payments/stripe", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, w).Type)
}

func TestWebhookUnknownProvider(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.webhooks.err = paymentdomain.ErrProviderNotFound

	w := ts.do(http.MethodPost, "/webhooks/payments/paypal", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
