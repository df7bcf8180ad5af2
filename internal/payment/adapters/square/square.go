package square

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

const (
	providerName = "square"
	// localPrefix marks a reference id the processor has never seen.
	localPrefix = "local_"

	environmentSandbox    = "sandbox"
	environmentProduction = "production"
)

type Factory struct {
	// BaseURL overrides the environment endpoint. Tests point it at an httptest server.
	BaseURL    string
	HTTPClient *http.Client
	Now        func() time.Time
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Provider, error) {
	required := map[string]string{}
	for _, key := range []string{
		"access_token",
		"location_id",
		"application_id",
		"environment",
		"webhook_signature_key",
		"webhook_notification_url",
	} {
		value, ok := domain.ReadString(cfg.Config, key)
		if !ok {
			return nil, domain.NewConfigurationError(providerName, key)
		}
		required[key] = value
	}

	environment := strings.ToLower(required["environment"])
	baseURL := ""
	switch environment {
	case environmentSandbox:
		baseURL = sandboxBaseURL
	case environmentProduction:
		baseURL = productionBaseURL
	default:
		return nil, &domain.Error{
			Kind:    domain.ErrConfiguration,
			Field:   "environment",
			Message: "square environment must be sandbox or production",
		}
	}
	if strings.TrimSpace(f.BaseURL) != "" {
		baseURL = strings.TrimSpace(f.BaseURL)
	}
	if cfg.Ledger == nil {
		return nil, &domain.Error{Kind: domain.ErrConfiguration, Field: "ledger", Message: "square requires a ledger reader"}
	}

	now := f.Now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		client:          newSquareClient(baseURL, required["access_token"], f.HTTPClient),
		ledger:          cfg.Ledger,
		locationID:      required["location_id"],
		applicationID:   required["application_id"],
		environment:     environment,
		signatureKey:    required["webhook_signature_key"],
		notificationURL: required["webhook_notification_url"],
		now:             now,
	}, nil
}

type Adapter struct {
	client          *squareClient
	ledger          domain.LedgerReader
	locationID      string
	applicationID   string
	environment     string
	signatureKey    string
	notificationURL string
	now             func() time.Time
}

func (a *Adapter) Name() string { return providerName }

// CreatePaymentIntent issues a local reference. Nothing is sent to Square until confirm.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, input domain.CreateIntentInput) (*domain.PaymentIntent, error) {
	if input.Amount.MinorUnits() <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}
	now := a.now().UTC()
	reference := newReferenceID(now)
	return &domain.PaymentIntent{
		ID:           reference,
		Amount:       input.Amount,
		Status:       domain.IntentStatusPending,
		ClientSecret: reference,
		Metadata:     input.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (a *Adapter) RetrievePaymentIntent(ctx context.Context, id string, opts domain.RetrieveOptions) (*domain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("intent_id", "intent id is required")
	}
	if isLocalReference(id) {
		return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusPending, ClientSecret: id}, nil
	}

	var resp paymentResponse
	if err := a.client.doJSON(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(id), nil, &resp); err != nil {
		return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusPending}, nil
	}
	intent, err := toIntent(resp.Payment)
	if err != nil {
		return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusPending}, nil
	}
	return intent, nil
}

// ConfirmPaymentIntent charges the ledger total for referenceID using the client's source token.
func (a *Adapter) ConfirmPaymentIntent(ctx context.Context, referenceID, paymentMethodToken, returnURL string) (*domain.PaymentIntent, error) {
	referenceID = strings.TrimSpace(referenceID)
	paymentMethodToken = strings.TrimSpace(paymentMethodToken)
	if !isLocalReference(referenceID) {
		return nil, domain.NewValidationError("intent_id", "payment reference has already been charged or is invalid")
	}
	if paymentMethodToken == "" {
		return nil, domain.NewValidationError("payment_method", "payment token is required")
	}

	record, err := a.ledger.FindAmountByIntentID(ctx, referenceID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, &domain.Error{Kind: domain.ErrMissingPaymentContext, Field: "intent_id", Err: err}
		}
		return nil, err
	}
	if record == nil || record.Total.MinorUnits() <= 0 {
		return nil, &domain.Error{Kind: domain.ErrMissingPaymentContext, Field: "intent_id", Message: "no chargeable amount for reference"}
	}
	if !record.Chargeable() {
		return nil, domain.NewValidationError("intent_id", "payment has already been charged")
	}

	idempotencyKey := domain.IdempotencyKeyFromContext(ctx)
	if idempotencyKey == "" {
		idempotencyKey = confirmKey(referenceID, paymentMethodToken)
	}

	var resp paymentResponse
	err = a.client.doJSON(ctx, http.MethodPost, "/v2/payments", createPaymentRequest{
		SourceID:       paymentMethodToken,
		IdempotencyKey: idempotencyKey,
		AmountMoney: squareMoney{
			Amount:   record.Total.MinorUnits(),
			Currency: record.Total.Currency(),
		},
		LocationID:   a.locationID,
		ReferenceID:  referenceID,
		CustomerID:   record.CustomerID,
		Autocomplete: true,
		Note:         "payment " + record.PaymentID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	intent, err := toIntent(resp.Payment)
	if err != nil {
		return nil, domain.NewRejectedError(providerName, "unexpected payment response", err)
	}
	if intent.Metadata == nil {
		intent.Metadata = map[string]string{}
	}
	intent.Metadata["reference_id"] = referenceID
	intent.Metadata["payment_id"] = record.PaymentID
	intent.ClientSecret = referenceID
	return intent, nil
}

func (a *Adapter) CancelPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("intent_id", "intent id is required")
	}
	if isLocalReference(id) {
		now := a.now().UTC()
		return &domain.PaymentIntent{ID: id, Status: domain.IntentStatusCanceled, ClientSecret: id, UpdatedAt: now}, nil
	}

	var resp paymentResponse
	if err := a.client.doJSON(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(id)+"/cancel", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return toIntent(resp.Payment)
}

func (a *Adapter) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResponse, error) {
	paymentID := strings.TrimSpace(req.IntentID)
	if paymentID == "" || isLocalReference(paymentID) {
		return nil, domain.NewValidationError("intent_id", "refund requires a charged payment id")
	}

	var amount squareMoney
	if req.Amount != nil {
		amount = squareMoney{Amount: req.Amount.MinorUnits(), Currency: req.Amount.Currency()}
	} else {
		var current paymentResponse
		if err := a.client.doJSON(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, &current); err != nil {
			return nil, err
		}
		amount = current.Payment.AmountMoney
	}
	if amount.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "refund amount must be positive")
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	var resp refundResponse
	err := a.client.doJSON(ctx, http.MethodPost, "/v2/refunds", refundPaymentRequest{
		IdempotencyKey: idempotencyKey,
		AmountMoney:    amount,
		PaymentID:      paymentID,
		Reason:         req.Reason,
	}, &resp)
	if err != nil {
		return nil, err
	}

	refunded, err := money.FromMinorUnits(resp.Refund.AmountMoney.Amount, resp.Refund.AmountMoney.Currency)
	if err != nil {
		return nil, domain.NewRejectedError(providerName, "refund returned an unknown currency", err)
	}
	return &domain.RefundResponse{
		ID:        resp.Refund.ID,
		Amount:    refunded,
		Status:    mapRefundStatus(resp.Refund.Status),
		CreatedAt: parseTime(resp.Refund.CreatedAt),
	}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, input domain.CustomerInput) (*domain.Customer, error) {
	var resp customerResponse
	if err := a.client.doJSON(ctx, http.MethodPost, "/v2/customers", customerBody(input), &resp); err != nil {
		return nil, err
	}
	return toCustomer(resp.Customer), nil
}

func (a *Adapter) RetrieveCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var resp customerResponse
	if err := a.client.doJSON(ctx, http.MethodGet, "/v2/customers/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return toCustomer(resp.Customer), nil
}

func (a *Adapter) UpdateCustomer(ctx context.Context, id string, input domain.CustomerInput) (*domain.Customer, error) {
	var resp customerResponse
	if err := a.client.doJSON(ctx, http.MethodPut, "/v2/customers/"+url.PathEscape(id), customerBody(input), &resp); err != nil {
		return nil, err
	}
	return toCustomer(resp.Customer), nil
}

func (a *Adapter) DeleteCustomer(ctx context.Context, id string) error {
	return a.client.doJSON(ctx, http.MethodDelete, "/v2/customers/"+url.PathEscape(id), nil, nil)
}

func (a *Adapter) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	query := url.Values{}
	query.Set("customer_id", customerID)

	var resp cardsResponse
	if err := a.client.doJSON(ctx, http.MethodGet, "/v2/cards?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	methods := make([]domain.PaymentMethod, 0, len(resp.Cards))
	for _, card := range resp.Cards {
		methods = append(methods, domain.PaymentMethod{
			ID:       card.ID,
			Type:     "card",
			Brand:    strings.ToLower(card.CardBrand),
			Last4:    card.Last4,
			ExpMonth: card.ExpMonth,
			ExpYear:  card.ExpYear,
		})
	}
	return methods, nil
}

func (a *Adapter) RequiresClientSecret() bool { return false }

func (a *Adapter) RequiresCheckoutURL() bool { return false }

func (a *Adapter) IsConfigured() bool {
	return a.client.accessToken != "" && a.locationID != "" && a.applicationID != "" && a.signatureKey != ""
}

func (a *Adapter) DashboardURL(intentID string) string {
	if isLocalReference(intentID) {
		return ""
	}
	host := "https://squareup.com"
	if a.environment == environmentSandbox {
		host = "https://squareupsandbox.com"
	}
	return host + "/dashboard/sales/transactions/" + intentID
}

func (a *Adapter) CSPDomains() domain.CSPDomains {
	cdn := "https://web.squarecdn.com"
	connect := []string{"https://connect.squareup.com", "https://pci-connect.squareup.com"}
	if a.environment == environmentSandbox {
		cdn = "https://sandbox.web.squarecdn.com"
		connect = []string{"https://connect.squareupsandbox.com", "https://pci-connect.squareupsandbox.com"}
	}
	return domain.CSPDomains{
		Script:  []string{cdn},
		Connect: connect,
		Frame:   []string{cdn},
		Style:   []string{cdn},
		Font:    []string{"https://square-fonts-production-f.squarecdn.com", "https://d1g145x70srn7h.cloudfront.net"},
		Img:     []string{cdn},
	}
}

func (a *Adapter) PublicConfig() map[string]string {
	return map[string]string{
		"application_id": a.applicationID,
		"location_id":    a.locationID,
		"environment":    a.environment,
	}
}

// newReferenceID stays within Square's 40 character reference_id limit.
func newReferenceID(now time.Time) string {
	return localPrefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String())
}

// confirmKey is stable for one reference and source token, so a resubmitted
// confirm collapses into the first charge at Square.
func confirmKey(referenceID, sourceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(referenceID+"|"+sourceID)).String()
}

func isLocalReference(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

func toIntent(p squarePayment) (*domain.PaymentIntent, error) {
	amount, err := money.FromMinorUnits(p.AmountMoney.Amount, p.AmountMoney.Currency)
	if err != nil {
		return nil, err
	}
	intent := &domain.PaymentIntent{
		ID:                p.ID,
		Amount:            amount,
		Status:            mapPaymentStatus(p.Status),
		ClientSecret:      p.ReferenceID,
		ReceiptURL:        p.ReceiptURL,
		PaymentMethodType: strings.ToLower(p.SourceType),
		CreatedAt:         parseTime(p.CreatedAt),
		UpdatedAt:         parseTime(p.UpdatedAt),
	}
	if p.ReferenceID != "" {
		intent.Metadata = map[string]string{"reference_id": p.ReferenceID}
	}
	if p.CardDetails != nil {
		intent.CardLast4 = p.CardDetails.Card.Last4
		intent.CardFingerprint = p.CardDetails.Card.Fingerprint
	}
	return intent, nil
}

func mapPaymentStatus(status string) domain.IntentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "APPROVED", "COMPLETED":
		return domain.IntentStatusSucceeded
	case "PENDING":
		return domain.IntentStatusProcessing
	case "FAILED", "CANCELED":
		return domain.IntentStatusFailed
	case "REFUNDED":
		return domain.IntentStatusCanceled
	default:
		return domain.IntentStatusPending
	}
}

func mapRefundStatus(status string) domain.RefundStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return domain.RefundStatusSucceeded
	case "PENDING":
		return domain.RefundStatusPending
	default:
		return domain.RefundStatusFailed
	}
}

func customerBody(input domain.CustomerInput) squareCustomer {
	body := squareCustomer{
		GivenName:    input.Name,
		EmailAddress: input.Email,
		PhoneNumber:  input.Phone,
	}
	if input.Metadata != nil {
		body.ReferenceID = input.Metadata["reference_id"]
		body.Note = input.Metadata["note"]
	}
	return body
}

func toCustomer(c squareCustomer) *domain.Customer {
	customer := &domain.Customer{
		ID:        c.ID,
		Email:     c.EmailAddress,
		Name:      c.GivenName,
		Phone:     c.PhoneNumber,
		CreatedAt: parseTime(c.CreatedAt),
	}
	if c.ReferenceID != "" {
		customer.Metadata = map[string]string{"reference_id": c.ReferenceID}
	}
	return customer
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
