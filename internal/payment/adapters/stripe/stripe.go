package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

const providerName = "stripe"

type Factory struct {
	// BaseURL overrides the API endpoint. Tests point it at an httptest server.
	BaseURL    string
	HTTPClient *http.Client
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Provider, error) {
	secretKey, ok := domain.ReadString(cfg.Config, "secret_key")
	if !ok {
		return nil, domain.NewConfigurationError(providerName, "secret_key")
	}
	webhookSecret, ok := domain.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, domain.NewConfigurationError(providerName, "webhook_secret")
	}
	publishableKey, _ := domain.ReadString(cfg.Config, "publishable_key")

	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	}
	if strings.TrimSpace(f.BaseURL) != "" {
		backendCfg.URL = stripego.String(strings.TrimSpace(f.BaseURL))
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	return &Adapter{
		api:            client.New(secretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend}),
		secretKey:      secretKey,
		publishableKey: publishableKey,
		webhookSecret:  webhookSecret,
	}, nil
}

type Adapter struct {
	api            *client.API
	secretKey      string
	publishableKey string
	webhookSecret  string
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) CreatePaymentIntent(ctx context.Context, input domain.CreateIntentInput) (*domain.PaymentIntent, error) {
	if input.Amount.MinorUnits() <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}

	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(input.Amount.MinorUnits()),
		Currency: stripego.String(strings.ToLower(input.Amount.Currency())),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	if input.Description != "" {
		params.Description = stripego.String(input.Description)
	}
	if input.CustomerID != "" {
		params.Customer = stripego.String(input.CustomerID)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	idempotencyKey := input.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = domain.IdempotencyKeyFromContext(ctx)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return toIntent(pi)
}

// RetrievePaymentIntent degrades to pending when the processor cannot be reached.
func (a *Adapter) RetrievePaymentIntent(ctx context.Context, id string, opts domain.RetrieveOptions) (*domain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("intent_id", "intent id is required")
	}

	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	if opts.IncludeLatestCharge {
		params.AddExpand("latest_charge")
	}
	if opts.IncludePaymentMethod {
		params.AddExpand("payment_method")
	}

	pi, err := a.api.PaymentIntents.Get(id, params)
	if err != nil {
		return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusPending}, nil
	}
	return toIntent(pi)
}

func (a *Adapter) ConfirmPaymentIntent(ctx context.Context, id, paymentMethodToken, returnURL string) (*domain.PaymentIntent, error) {
	params := &stripego.PaymentIntentConfirmParams{}
	params.Context = ctx
	if paymentMethodToken != "" {
		params.PaymentMethod = stripego.String(paymentMethodToken)
	}
	if returnURL != "" {
		params.ReturnURL = stripego.String(returnURL)
	}

	pi, err := a.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toIntent(pi)
}

func (a *Adapter) CancelPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := a.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toIntent(pi)
}

func (a *Adapter) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResponse, error) {
	if strings.TrimSpace(req.IntentID) == "" {
		return nil, domain.NewValidationError("intent_id", "intent id is required")
	}

	params := &stripego.RefundParams{PaymentIntent: stripego.String(req.IntentID)}
	params.Context = ctx
	if req.Amount != nil {
		params.Amount = stripego.Int64(req.Amount.MinorUnits())
	}
	if reason := refundReason(req.Reason); reason != "" {
		params.Reason = stripego.String(reason)
	} else if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = domain.IdempotencyKeyFromContext(ctx)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	amount, err := money.FromMinorUnits(refund.Amount, string(refund.Currency))
	if err != nil {
		return nil, domain.NewRejectedError(providerName, "refund returned an unknown currency", err)
	}
	return &domain.RefundResponse{
		ID:        refund.ID,
		Amount:    amount,
		Status:    mapRefundStatus(string(refund.Status)),
		CreatedAt: time.Unix(refund.Created, 0).UTC(),
	}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, input domain.CustomerInput) (*domain.Customer, error) {
	params := customerParams(input)
	params.Context = ctx

	cus, err := a.api.Customers.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return toCustomer(cus), nil
}

func (a *Adapter) RetrieveCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	params := &stripego.CustomerParams{}
	params.Context = ctx

	cus, err := a.api.Customers.Get(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toCustomer(cus), nil
}

func (a *Adapter) UpdateCustomer(ctx context.Context, id string, input domain.CustomerInput) (*domain.Customer, error) {
	params := customerParams(input)
	params.Context = ctx

	cus, err := a.api.Customers.Update(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toCustomer(cus), nil
}

func (a *Adapter) DeleteCustomer(ctx context.Context, id string) error {
	params := &stripego.CustomerParams{}
	params.Context = ctx

	if _, err := a.api.Customers.Del(id, params); err != nil {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	params := &stripego.PaymentMethodListParams{
		Customer: stripego.String(customerID),
		Type:     stripego.String(string(stripego.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	iter := a.api.PaymentMethods.List(params)
	methods := []domain.PaymentMethod{}
	for iter.Next() {
		pm := iter.PaymentMethod()
		method := domain.PaymentMethod{ID: pm.ID, Type: string(pm.Type)}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
			method.ExpMonth = int(pm.Card.ExpMonth)
			method.ExpYear = int(pm.Card.ExpYear)
		}
		methods = append(methods, method)
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	return methods, nil
}

func (a *Adapter) RequiresClientSecret() bool { return true }

func (a *Adapter) RequiresCheckoutURL() bool { return false }

func (a *Adapter) IsConfigured() bool {
	return a.secretKey != "" && a.webhookSecret != ""
}

func (a *Adapter) DashboardURL(intentID string) string {
	base := "https://dashboard.stripe.com"
	if strings.HasPrefix(a.secretKey, "sk_test_") || strings.HasPrefix(a.secretKey, "rk_test_") {
		base += "/test"
	}
	return base + "/payments/" + intentID
}

func (a *Adapter) CSPDomains() domain.CSPDomains {
	return domain.CSPDomains{
		Script:  []string{"https://js.stripe.com"},
		Connect: []string{"https://api.stripe.com", "https://m.stripe.network"},
		Frame:   []string{"https://js.stripe.com", "https://hooks.stripe.com"},
		Img:     []string{"https://*.stripe.com"},
	}
}

func (a *Adapter) PublicConfig() map[string]string {
	return map[string]string{"publishable_key": a.publishableKey}
}

func toIntent(pi *stripego.PaymentIntent) (*domain.PaymentIntent, error) {
	if pi == nil {
		return nil, domain.NewRejectedError(providerName, "empty payment intent response", nil)
	}
	amount, err := money.FromMinorUnits(pi.Amount, string(pi.Currency))
	if err != nil {
		return nil, domain.NewRejectedError(providerName, "payment intent returned an unknown currency", err)
	}

	created := time.Unix(pi.Created, 0).UTC()
	intent := &domain.PaymentIntent{
		ID:           pi.ID,
		Amount:       amount,
		Status:       mapIntentStatus(string(pi.Status)),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if pi.LatestCharge != nil {
		intent.ReceiptURL = pi.LatestCharge.ReceiptURL
		if details := pi.LatestCharge.PaymentMethodDetails; details != nil {
			intent.PaymentMethodType = string(details.Type)
			if details.Card != nil {
				intent.CardLast4 = details.Card.Last4
				intent.CardFingerprint = details.Card.Fingerprint
			}
		}
	}
	if pm := pi.PaymentMethod; pm != nil {
		intent.PaymentMethodType = string(pm.Type)
		if pm.Card != nil {
			intent.CardLast4 = pm.Card.Last4
			intent.CardFingerprint = pm.Card.Fingerprint
		}
	}
	return intent, nil
}

func mapIntentStatus(status string) domain.IntentStatus {
	switch status {
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return domain.IntentStatusPending
	case "processing":
		return domain.IntentStatusProcessing
	case "succeeded":
		return domain.IntentStatusSucceeded
	case "canceled":
		return domain.IntentStatusCanceled
	default:
		return domain.IntentStatusFailed
	}
}

func mapRefundStatus(status string) domain.RefundStatus {
	switch status {
	case "succeeded":
		return domain.RefundStatusSucceeded
	case "pending", "requires_action":
		return domain.RefundStatusPending
	default:
		return domain.RefundStatusFailed
	}
}

func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate":
		return "duplicate"
	case "fraudulent":
		return "fraudulent"
	case "requested_by_customer":
		return "requested_by_customer"
	default:
		return ""
	}
}

func customerParams(input domain.CustomerInput) *stripego.CustomerParams {
	params := &stripego.CustomerParams{}
	if input.Email != "" {
		params.Email = stripego.String(input.Email)
	}
	if input.Name != "" {
		params.Name = stripego.String(input.Name)
	}
	if input.Phone != "" {
		params.Phone = stripego.String(input.Phone)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	return params
}

func toCustomer(cus *stripego.Customer) *domain.Customer {
	return &domain.Customer{
		ID:        cus.ID,
		Email:     cus.Email,
		Name:      cus.Name,
		Phone:     cus.Phone,
		Metadata:  cus.Metadata,
		CreatedAt: time.Unix(cus.Created, 0).UTC(),
	}
}

// mapError treats transport failures, rate limits and 5xx as retryable.
func mapError(err error) error {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return domain.NewUnavailableError(providerName, err)
	}
	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode == 0 {
		return domain.NewUnavailableError(providerName, err)
	}
	return domain.NewRejectedError(providerName, stripeErr.Msg, err)
}
