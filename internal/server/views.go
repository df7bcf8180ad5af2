package server

import (
	"time"

	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func newMoneyView(m money.Money) moneyView {
	return moneyView{Amount: m.MinorUnits(), Currency: m.Currency(), Display: m.String()}
}

type intentView struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Amount            moneyView         `json:"amount"`
	ClientSecret      string            `json:"client_secret,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ReceiptURL        string            `json:"receipt_url,omitempty"`
	PaymentMethodType string            `json:"payment_method_type,omitempty"`
	CardLast4         string            `json:"card_last4,omitempty"`
	CreatedAt         *time.Time        `json:"created_at,omitempty"`
	UpdatedAt         *time.Time        `json:"updated_at,omitempty"`
}

func newIntentView(in *paymentdomain.PaymentIntent) intentView {
	v := intentView{
		ID:                in.ID,
		Status:            string(in.Status),
		ClientSecret:      in.ClientSecret,
		Metadata:          in.Metadata,
		ReceiptURL:        in.ReceiptURL,
		PaymentMethodType: in.PaymentMethodType,
		CardLast4:         in.CardLast4,
	}
	if in.Amount.Currency() != "" {
		v.Amount = newMoneyView(in.Amount)
	}
	if !in.CreatedAt.IsZero() {
		v.CreatedAt = &in.CreatedAt
	}
	if !in.UpdatedAt.IsZero() {
		v.UpdatedAt = &in.UpdatedAt
	}
	return v
}

type customerView struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Phone    string            `json:"phone,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func newCustomerView(c *paymentdomain.Customer) customerView {
	return customerView{ID: c.ID, Email: c.Email, Name: c.Name, Phone: c.Phone, Metadata: c.Metadata}
}
