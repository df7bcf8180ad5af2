package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
)

type customerRequest struct {
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Phone    string            `json:"phone"`
	Metadata map[string]string `json:"metadata"`
}

func (r customerRequest) input() paymentdomain.CustomerInput {
	return paymentdomain.CustomerInput{Email: r.Email, Name: r.Name, Phone: r.Phone, Metadata: r.Metadata}
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body", "invalid customer"))
		return
	}
	customer, err := s.payments.CreateCustomer(c.Request.Context(), req.input())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCustomerView(customer))
}

func (s *Server) GetCustomer(c *gin.Context) {
	customer, err := s.payments.RetrieveCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCustomerView(customer))
}

func (s *Server) UpdateCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("body", "invalid customer"))
		return
	}
	customer, err := s.payments.UpdateCustomer(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCustomerView(customer))
}

func (s *Server) DeleteCustomer(c *gin.Context) {
	if err := s.payments.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	methods, err := s.payments.ListPaymentMethods(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(methods))
	for _, m := range methods {
		out = append(out, gin.H{
			"id":        m.ID,
			"type":      m.Type,
			"brand":     m.Brand,
			"last4":     m.Last4,
			"exp_month": m.ExpMonth,
			"exp_year":  m.ExpYear,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
