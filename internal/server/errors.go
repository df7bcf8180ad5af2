package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/enrollpay/internal/idempotency"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrRateLimited    = errors.New("rate_limited")

	ErrServiceUnavailable = errors.New("service_unavailable")
)

// supportMessage is all the customer sees for failures only an operator can fix.
const supportMessage = "payment could not be initiated, contact support"

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError(field, message string) error {
	return &paymentdomain.Error{Kind: ErrInvalidRequest, Field: field, Message: message}
}

func mapError(err error) (int, errorPayload) {
	var domainErr *paymentdomain.Error
	errors.As(err, &domainErr)

	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}

	case errors.Is(err, paymentdomain.ErrValidation), errors.Is(err, ErrInvalidRequest):
		payload := errorPayload{Type: "validation_error", Message: "validation error"}
		if domainErr != nil {
			payload.Errors = []ValidationError{{
				Field:   domainErr.Field,
				Code:    "invalid",
				Message: domainErr.Message,
			}}
		}
		return http.StatusBadRequest, payload

	case errors.Is(err, paymentdomain.ErrProcessorRejected):
		msg := paymentdomain.UserMessage(err)
		if msg == "" {
			msg = "the payment was declined"
		}
		return http.StatusPaymentRequired, errorPayload{Type: "payment_rejected", Message: msg}

	case errors.Is(err, paymentdomain.ErrProcessorUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:      "processor_unavailable",
			Message:   "the payment processor is unavailable, try again shortly",
			Retryable: true,
		}

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{Type: "invalid_signature", Message: "invalid signature"}

	case errors.Is(err, paymentdomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{Type: "malformed_payload", Message: "malformed payload"}

	case errors.Is(err, paymentdomain.ErrMissingPaymentContext):
		return http.StatusConflict, errorPayload{Type: "missing_payment_context", Message: "no payment is open for this request"}

	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, errorPayload{
			Type:      "idempotency_conflict",
			Message:   "a request with this idempotency key is still in progress",
			Retryable: true,
		}

	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "idempotency_key_reused",
			Message: "this idempotency key was used with a different request",
		}

	case errors.Is(err, idempotency.ErrInvalidKey):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "invalid Idempotency-Key header"}

	case errors.Is(err, paymentdomain.ErrProviderNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}

	case errors.Is(err, paymentdomain.ErrNotSupported):
		return http.StatusNotImplemented, errorPayload{Type: "not_supported", Message: "not supported by the active payment provider"}

	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable", Retryable: true}

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests", Retryable: true}

	case errors.Is(err, paymentdomain.ErrConfiguration), errors.Is(err, paymentdomain.ErrLedgerPersistenceFailed):
		return http.StatusInternalServerError, errorPayload{Type: "payment_unavailable", Message: supportMessage}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog names the error kind on the request log line.
func classifyErrorForLog(err error) string {
	if err == nil {
		return ""
	}
	_, payload := mapError(err)
	return payload.Type
}
