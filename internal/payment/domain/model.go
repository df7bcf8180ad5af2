package domain

import (
	"time"

	"github.com/smallbiznis/enrollpay/pkg/money"
)

type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusProcessing IntentStatus = "processing"
	IntentStatusSucceeded  IntentStatus = "succeeded"
	IntentStatusFailed     IntentStatus = "failed"
	IntentStatusCanceled   IntentStatus = "canceled"
)

// Terminal reports whether no further processor transition is expected.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled:
		return true
	default:
		return false
	}
}

type PaymentIntent struct {
	ID           string
	Amount       money.Money
	Status       IntentStatus
	ClientSecret string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	ReceiptURL        string
	PaymentMethodType string
	CardLast4         string
	CardFingerprint   string
}

type CreateIntentInput struct {
	Amount         money.Money
	Metadata       map[string]string
	Description    string
	CustomerID     string
	IdempotencyKey string
}

type RetrieveOptions struct {
	IncludeLatestCharge  bool
	IncludePaymentMethod bool
}

type RefundStatus string

const (
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusFailed    RefundStatus = "failed"
)

type RefundRequest struct {
	IntentID string
	// Amount is nil for a full refund.
	Amount         *money.Money
	Reason         string
	IdempotencyKey string
}

type RefundResponse struct {
	ID        string
	Amount    money.Money
	Status    RefundStatus
	CreatedAt time.Time
}

type Customer struct {
	ID        string
	Email     string
	Name      string
	Phone     string
	Metadata  map[string]string
	CreatedAt time.Time
}

type CustomerInput struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]string
}

type PaymentMethod struct {
	ID       string
	Type     string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// CSPDomains lists the origins a provider's browser SDK needs, per directive.
type CSPDomains struct {
	Script  []string
	Connect []string
	Frame   []string
	Style   []string
	Font    []string
	Img     []string
}

type NormalizedEventType int

const (
	EventPaymentCreated NormalizedEventType = iota + 1
	EventPaymentProcessing
	EventPaymentSucceeded
	EventPaymentFailed
	EventRefundCreated
	EventRefundUpdated
)

func (t NormalizedEventType) String() string {
	switch t {
	case EventPaymentCreated:
		return "payment.created"
	case EventPaymentProcessing:
		return "payment.processing"
	case EventPaymentSucceeded:
		return "payment.succeeded"
	case EventPaymentFailed:
		return "payment.failed"
	case EventRefundCreated:
		return "refund.created"
	case EventRefundUpdated:
		return "refund.updated"
	default:
		return "unknown"
	}
}

// IntentStatus is the ledger status a payment event moves the record to.
// Refund events do not change the payment status.
func (t NormalizedEventType) IntentStatus() (IntentStatus, bool) {
	switch t {
	case EventPaymentCreated:
		return IntentStatusPending, true
	case EventPaymentProcessing:
		return IntentStatusProcessing, true
	case EventPaymentSucceeded:
		return IntentStatusSucceeded, true
	case EventPaymentFailed:
		return IntentStatusFailed, true
	case EventRefundCreated, EventRefundUpdated:
		return "", false
	default:
		return "", false
	}
}

type ParsedWebhookEvent struct {
	Provider                 string
	EventID                  string
	RawType                  string
	Type                     NormalizedEventType
	IntentID                 string
	Metadata                 map[string]string
	Amount                   *money.Money
	PaymentMethodFingerprint string
	ReceiptURL               string
	OccurredAt               time.Time
}
