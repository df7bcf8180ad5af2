package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Processors sign the exact bytes they send, so the body goes to the
// normalizer untouched.
const maxWebhookBody = 1 << 20

type webhookAck struct {
	Received  bool   `json:"received"`
	Outcome   string `json:"outcome"`
	EventType string `json:"event_type,omitempty"`
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	c.Set("payment_provider", provider)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, invalidRequestError("body", "webhook payload is too large"))
			return
		}
		AbortWithError(c, invalidRequestError("body", "request body could not be read"))
		return
	}

	result, err := s.webhooks.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Duplicates and ignored types are acknowledged so the processor stops retrying.
	c.JSON(http.StatusOK, webhookAck{
		Received:  true,
		Outcome:   string(result.Outcome),
		EventType: result.EventType,
	})
}
