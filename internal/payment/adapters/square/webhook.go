package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

const signatureHeader = "X-Square-Hmacsha256-Signature"

type squareEvent struct {
	MerchantID string          `json:"merchant_id"`
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	CreatedAt  string          `json:"created_at"`
	Data       squareEventData `json:"data"`
}

type squareEventData struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	Object squareEventObject `json:"object"`
}

type squareEventObject struct {
	Payment      *squarePayment      `json:"payment"`
	Refund       *squareRefund       `json:"refund"`
	Order        *squareOrder        `json:"order"`
	OrderUpdated *squareOrderUpdated `json:"order_updated"`
}

type squareOrder struct {
	ID          string         `json:"id"`
	State       string         `json:"state"`
	ReferenceID string         `json:"reference_id"`
	TotalMoney  *squareMoney   `json:"total_money"`
	Tenders     []squareTender `json:"tenders"`
}

type squareTender struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	PaymentID   string             `json:"payment_id"`
	AmountMoney *squareMoney       `json:"amount_money"`
	CardDetails *squareCardDetails `json:"card_details"`
}

type squareOrderUpdated struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

// ParseWebhookEvent checks the HMAC over the notification URL and raw body before decoding.
func (a *Adapter) ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (*domain.ParsedWebhookEvent, error) {
	if err := a.verifySignature(payload, headers.Get(signatureHeader)); err != nil {
		return nil, err
	}

	var event squareEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Err: err}
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, domain.ErrMalformedPayload
	}

	base := domain.ParsedWebhookEvent{
		Provider:   providerName,
		EventID:    event.EventID,
		RawType:    event.Type,
		OccurredAt: parseTime(event.CreatedAt),
	}

	switch event.Type {
	case "payment.created", "payment.updated":
		return parsePaymentEvent(base, event.Data.Object.Payment)
	case "refund.created":
		return parseRefundEvent(base, domain.EventRefundCreated, event.Data.Object.Refund)
	case "refund.updated":
		return parseRefundEvent(base, domain.EventRefundUpdated, event.Data.Object.Refund)
	case "order.created", "order.updated", "order.fulfillment.updated":
		return parseOrderEvent(base, event.Data.Object)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) verifySignature(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(a.signatureKey))
	_, _ = mac.Write([]byte(a.notificationURL))
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func parsePaymentEvent(event domain.ParsedWebhookEvent, payment *squarePayment) (*domain.ParsedWebhookEvent, error) {
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "data.object.payment"}
	}

	eventType, ok := paymentEventType(event.RawType, mapPaymentStatus(payment.Status))
	if !ok {
		return nil, domain.ErrEventIgnored
	}
	event.Type = eventType
	event.IntentID = payment.ID
	event.ReceiptURL = payment.ReceiptURL
	event.Metadata = referenceMetadata(payment.ReferenceID, payment.OrderID)
	if payment.CardDetails != nil {
		event.PaymentMethodFingerprint = payment.CardDetails.Card.Fingerprint
	}
	amount, err := eventAmount(&payment.AmountMoney)
	if err != nil {
		return nil, err
	}
	event.Amount = amount
	return &event, nil
}

// paymentEventType maps a payment's current status to the normalized event it represents.
func paymentEventType(rawType string, status domain.IntentStatus) (domain.NormalizedEventType, bool) {
	switch status {
	case domain.IntentStatusPending:
		if rawType == "payment.created" {
			return domain.EventPaymentCreated, true
		}
		return 0, false
	case domain.IntentStatusProcessing:
		return domain.EventPaymentProcessing, true
	case domain.IntentStatusSucceeded:
		return domain.EventPaymentSucceeded, true
	case domain.IntentStatusFailed:
		return domain.EventPaymentFailed, true
	case domain.IntentStatusCanceled:
		return domain.EventRefundUpdated, true
	default:
		return 0, false
	}
}

func parseRefundEvent(event domain.ParsedWebhookEvent, eventType domain.NormalizedEventType, refund *squareRefund) (*domain.ParsedWebhookEvent, error) {
	if refund == nil || strings.TrimSpace(refund.PaymentID) == "" {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "data.object.refund"}
	}
	event.Type = eventType
	event.IntentID = refund.PaymentID
	event.Metadata = map[string]string{"refund_id": refund.ID, "refund_status": strings.ToLower(refund.Status)}
	amount, err := eventAmount(&refund.AmountMoney)
	if err != nil {
		return nil, err
	}
	event.Amount = amount
	return &event, nil
}

// parseOrderEvent derives payment events from order state. A completed order counts as a
// successful payment even when no payment event is delivered.
func parseOrderEvent(event domain.ParsedWebhookEvent, obj squareEventObject) (*domain.ParsedWebhookEvent, error) {
	var (
		orderID, state, referenceID string
		tender                      *squareTender
		total                       *squareMoney
	)
	switch {
	case obj.Order != nil:
		orderID = obj.Order.ID
		state = obj.Order.State
		referenceID = obj.Order.ReferenceID
		total = obj.Order.TotalMoney
		for i := range obj.Order.Tenders {
			if obj.Order.Tenders[i].PaymentID != "" {
				tender = &obj.Order.Tenders[i]
				break
			}
		}
	case obj.OrderUpdated != nil:
		orderID = obj.OrderUpdated.OrderID
		state = obj.OrderUpdated.State
	default:
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "data.object.order"}
	}

	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		event.Type = domain.EventPaymentSucceeded
	case "CANCELED":
		event.Type = domain.EventPaymentFailed
	default:
		return nil, domain.ErrEventIgnored
	}

	event.Metadata = referenceMetadata(referenceID, orderID)
	if tender != nil {
		event.IntentID = tender.PaymentID
		if tender.CardDetails != nil {
			event.PaymentMethodFingerprint = tender.CardDetails.Card.Fingerprint
		}
		if tender.AmountMoney != nil {
			total = tender.AmountMoney
		}
	}
	if event.IntentID == "" {
		event.IntentID = referenceID
	}
	if event.IntentID == "" {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "tenders.payment_id"}
	}
	amount, err := eventAmount(total)
	if err != nil {
		return nil, err
	}
	event.Amount = amount
	return &event, nil
}

func referenceMetadata(referenceID, orderID string) map[string]string {
	out := map[string]string{}
	if referenceID != "" {
		out["reference_id"] = referenceID
	}
	if orderID != "" {
		out["order_id"] = orderID
	}
	return out
}

func eventAmount(m *squareMoney) (*money.Money, error) {
	if m == nil || m.Currency == "" {
		return nil, nil
	}
	amount, err := money.FromMinorUnits(m.Amount, m.Currency)
	if err != nil {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "amount_money", Err: err}
	}
	return &amount, nil
}
