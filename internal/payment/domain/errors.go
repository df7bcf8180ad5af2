package domain

import (
	"errors"
	"strings"
)

var (
	ErrValidation              = errors.New("validation_error")
	ErrConfiguration           = errors.New("configuration_error")
	ErrProcessorUnavailable    = errors.New("processor_unavailable")
	ErrProcessorRejected       = errors.New("processor_rejected")
	ErrInvalidSignature        = errors.New("invalid_signature")
	ErrMalformedPayload        = errors.New("malformed_payload")
	ErrMissingPaymentContext   = errors.New("missing_payment_context")
	ErrLedgerPersistenceFailed = errors.New("ledger_persistence_failed")

	ErrProviderNotFound = errors.New("provider_not_found")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrNotSupported     = errors.New("operation_not_supported")
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrIntentConflict   = errors.New("payment_intent_conflict")
)

// Error carries a kind sentinel plus the underlying cause. errors.Is matches both.
type Error struct {
	Kind    error
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NewValidationError(field, message string) error {
	return &Error{Kind: ErrValidation, Field: field, Message: message}
}

func NewConfigurationError(provider, field string) error {
	return &Error{Kind: ErrConfiguration, Field: field, Message: provider + " is missing " + field}
}

func NewUnavailableError(provider string, err error) error {
	return &Error{Kind: ErrProcessorUnavailable, Message: provider, Err: err}
}

func NewRejectedError(provider, message string, err error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = provider + " declined the payment"
	}
	return &Error{Kind: ErrProcessorRejected, Message: message, Err: err}
}

// UserMessage returns the message safe to show the customer for a rejection or validation failure.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Message
}
