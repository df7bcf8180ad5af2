package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

const signatureHeader = "Stripe-Signature"

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type eventObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
	ReceiptURL    string            `json:"receipt_url"`
	LatestCharge  json.RawMessage   `json:"latest_charge"`
	Details       *struct {
		Card *struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

type chargeRef struct {
	ID         string `json:"id"`
	ReceiptURL string `json:"receipt_url"`
	Details    *struct {
		Card *struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

// ParseWebhookEvent authenticates the Stripe-Signature header before decoding the body.
func (a *Adapter) ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (*domain.ParsedWebhookEvent, error) {
	sig := strings.TrimSpace(headers.Get(signatureHeader))
	if sig == "" {
		return nil, domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, sig, a.webhookSecret); err != nil {
		return nil, &domain.Error{Kind: domain.ErrInvalidSignature, Err: err}
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Err: err}
	}
	if strings.TrimSpace(event.ID) == "" || len(event.Data.Object) == 0 {
		return nil, domain.ErrMalformedPayload
	}

	eventType, ok := normalizeEventType(event.Type)
	if !ok {
		return nil, domain.ErrEventIgnored
	}

	var obj eventObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Err: err}
	}

	parsed := &domain.ParsedWebhookEvent{
		Provider:   providerName,
		EventID:    event.ID,
		RawType:    event.Type,
		Type:       eventType,
		Metadata:   obj.Metadata,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if obj.Currency != "" {
		amount, err := money.FromMinorUnits(obj.Amount, obj.Currency)
		if err != nil {
			return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "currency", Err: err}
		}
		parsed.Amount = &amount
	}

	switch obj.Object {
	case "payment_intent":
		parsed.IntentID = obj.ID
		var charge chargeRef
		if len(obj.LatestCharge) > 0 && obj.LatestCharge[0] == '{' {
			if err := json.Unmarshal(obj.LatestCharge, &charge); err == nil {
				parsed.ReceiptURL = charge.ReceiptURL
				if charge.Details != nil && charge.Details.Card != nil {
					parsed.PaymentMethodFingerprint = charge.Details.Card.Fingerprint
				}
			}
		}
	case "charge", "refund":
		parsed.IntentID = expandableID(obj.PaymentIntent)
		parsed.ReceiptURL = obj.ReceiptURL
		if obj.Details != nil && obj.Details.Card != nil {
			parsed.PaymentMethodFingerprint = obj.Details.Card.Fingerprint
		}
	default:
		return nil, domain.ErrMalformedPayload
	}
	if parsed.IntentID == "" {
		return nil, &domain.Error{Kind: domain.ErrMalformedPayload, Field: "payment_intent"}
	}
	return parsed, nil
}

// normalizeEventType is the fixed raw-to-normalized table. Unlisted types are ignored.
func normalizeEventType(raw string) (domain.NormalizedEventType, bool) {
	switch raw {
	case "payment_intent.created":
		return domain.EventPaymentCreated, true
	case "payment_intent.processing":
		return domain.EventPaymentProcessing, true
	case "payment_intent.succeeded", "charge.succeeded":
		return domain.EventPaymentSucceeded, true
	case "payment_intent.payment_failed", "payment_intent.canceled", "charge.failed":
		return domain.EventPaymentFailed, true
	case "charge.refunded", "refund.created":
		return domain.EventRefundCreated, true
	case "charge.refund.updated", "refund.updated":
		return domain.EventRefundUpdated, true
	default:
		return 0, false
	}
}

// expandableID reads a Stripe field that is either an id string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
