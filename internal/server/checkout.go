package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/smallbiznis/enrollpay/internal/checkout/domain"
)

type studentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type checkoutRequest struct {
	PaymentID   string            `json:"payment_id"`
	OrderID     string            `json:"order_id"`
	Category    string            `json:"category" binding:"required"`
	Currency    string            `json:"currency" binding:"required"`
	Students    []studentRequest  `json:"students"`
	Quantity    int64             `json:"quantity"`
	UnitPrice   int64             `json:"unit_price"`
	Subtotal    int64             `json:"subtotal"`
	Total       int64             `json:"total"`
	Tax         int64             `json:"tax"`
	Amount      int64             `json:"amount"`
	CustomerID  string            `json:"customer_id"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type taxLineView struct {
	TaxRateID   string    `json:"tax_rate_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	BasisPoints int64     `json:"basis_points"`
	Amount      moneyView `json:"amount"`
}

type checkoutResponse struct {
	PaymentID            string        `json:"payment_id"`
	IntentID             string        `json:"intent_id"`
	Provider             string        `json:"provider"`
	ClientSecret         string        `json:"client_secret,omitempty"`
	ReferenceID          string        `json:"reference_id,omitempty"`
	RequiresClientSecret bool          `json:"requires_client_secret"`
	Subtotal             moneyView     `json:"subtotal"`
	Tax                  moneyView     `json:"tax"`
	Total                moneyView     `json:"total"`
	TaxLines             []taxLineView `json:"tax_lines,omitempty"`
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body", "category and currency are required"))
		return
	}

	category, ok := checkoutdomain.ParseCategory(req.Category)
	if !ok {
		AbortWithError(c, invalidRequestError("category", "unknown payment category"))
		return
	}

	students := make([]checkoutdomain.Student, 0, len(req.Students))
	for _, st := range req.Students {
		students = append(students, checkoutdomain.Student{ID: st.ID, Name: st.Name})
	}

	result, err := s.checkout.Checkout(c.Request.Context(), checkoutdomain.CheckoutRequest{
		PaymentID:      req.PaymentID,
		OrderID:        req.OrderID,
		Category:       category,
		Currency:       req.Currency,
		Students:       students,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Subtotal:       req.Subtotal,
		Total:          req.Total,
		Tax:            req.Tax,
		Amount:         req.Amount,
		CustomerID:     req.CustomerID,
		Description:    req.Description,
		Metadata:       req.Metadata,
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("payment_provider", result.Provider)

	resp := checkoutResponse{
		PaymentID:            result.PaymentID,
		IntentID:             result.IntentID,
		Provider:             result.Provider,
		RequiresClientSecret: result.RequiresClientSecret,
		Subtotal:             newMoneyView(result.Subtotal),
		Tax:                  newMoneyView(result.Tax),
		Total:                newMoneyView(result.Total),
	}
	// Token-model providers continue with a local reference instead of a secret.
	if result.RequiresClientSecret {
		resp.ClientSecret = result.ClientToken
	} else {
		resp.ReferenceID = result.ClientToken
	}
	for _, line := range result.TaxLines {
		resp.TaxLines = append(resp.TaxLines, taxLineView{
			TaxRateID:   line.TaxRateID,
			Name:        line.Name,
			Description: line.Description,
			BasisPoints: line.BasisPoints,
			Amount:      newMoneyView(line.Amount),
		})
	}

	c.JSON(http.StatusOK, resp)
}

type taxLineRequest struct {
	TaxRateID   string `json:"tax_rate_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BasisPoints int64  `json:"basis_points"`
	Amount      int64  `json:"amount"`
}

type createSessionRequest struct {
	OrderID  string           `json:"order_id" binding:"required"`
	Category string           `json:"category" binding:"required"`
	Currency string           `json:"currency" binding:"required"`
	Subtotal int64            `json:"subtotal"`
	Tax      int64            `json:"tax"`
	Total    int64            `json:"total"`
	TaxLines []taxLineRequest `json:"tax_lines"`
}

func (s *Server) CreatePaymentSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body", "order_id, category and currency are required"))
		return
	}
	category, ok := checkoutdomain.ParseCategory(req.Category)
	if !ok {
		AbortWithError(c, invalidRequestError("category", "unknown payment category"))
		return
	}

	lines := make([]checkoutdomain.TaxLineInput, 0, len(req.TaxLines))
	for _, l := range req.TaxLines {
		lines = append(lines, checkoutdomain.TaxLineInput{
			TaxRateID:   l.TaxRateID,
			Name:        l.Name,
			Description: l.Description,
			BasisPoints: l.BasisPoints,
			Amount:      l.Amount,
		})
	}

	session, err := s.checkout.CreateSession(c.Request.Context(), checkoutdomain.CreateSessionRequest{
		OrderID:  req.OrderID,
		Category: category,
		Currency: req.Currency,
		Subtotal: req.Subtotal,
		Tax:      req.Tax,
		Total:    req.Total,
		TaxLines: lines,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment_id": session.PaymentID,
		"order_id":   session.OrderID,
		"category":   string(session.Category),
		"status":     session.Status,
		"subtotal":   newMoneyView(session.Subtotal),
		"tax":        newMoneyView(session.Tax),
		"total":      newMoneyView(session.Total),
	})
}
