package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	paymentservice "github.com/smallbiznis/enrollpay/internal/payment/service"
)

func (s *Server) GetPaymentConfig(c *gin.Context) {
	cfg, err := s.payments.PublicConfig(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":               cfg.Provider,
		"requires_client_secret": cfg.RequiresClientSecret,
		"requires_checkout_url":  cfg.RequiresCheckoutURL,
		"configured":             cfg.Configured,
		"keys":                   cfg.Keys,
	})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	opts := paymentdomain.RetrieveOptions{}
	for _, field := range strings.Split(c.Query("expand"), ",") {
		switch strings.TrimSpace(field) {
		case "latest_charge":
			opts.IncludeLatestCharge = true
		case "payment_method":
			opts.IncludePaymentMethod = true
		}
	}

	intent, err := s.payments.RetrieveIntent(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIntentView(intent))
}

type confirmRequest struct {
	PaymentMethod string `json:"payment_method"`
	ReturnURL     string `json:"return_url"`
}

func (s *Server) ConfirmPaymentIntent(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body", "invalid confirm request"))
		return
	}

	intent, err := s.payments.ConfirmIntent(c.Request.Context(), c.Param("id"), req.PaymentMethod, req.ReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIntentView(intent))
}

func (s *Server) CancelPaymentIntent(c *gin.Context) {
	intent, err := s.payments.CancelIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIntentView(intent))
}

type refundRequest struct {
	IntentID string `json:"intent_id" binding:"required"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("intent_id", "intent_id is required"))
		return
	}

	refund, err := s.payments.Refund(c.Request.Context(), paymentservice.RefundInput{
		IntentID: req.IntentID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Reason:   req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         refund.ID,
		"status":     string(refund.Status),
		"amount":     newMoneyView(refund.Amount),
		"created_at": refund.CreatedAt,
	})
}
