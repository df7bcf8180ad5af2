package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

const (
	productionBaseURL = "https://connect.squareup.com"
	sandboxBaseURL    = "https://connect.squareupsandbox.com"
	apiVersion        = "2024-01-18"
)

var errNotFound = errors.New("square_not_found")

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type squareErrorResponse struct {
	Errors []squareError `json:"errors"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareCard struct {
	ID          string `json:"id,omitempty"`
	CardBrand   string `json:"card_brand"`
	Last4       string `json:"last_4"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
	Fingerprint string `json:"fingerprint"`
}

type squareCardDetails struct {
	Status string     `json:"status"`
	Card   squareCard `json:"card"`
}

type squarePayment struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	AmountMoney squareMoney        `json:"amount_money"`
	SourceType  string             `json:"source_type"`
	CardDetails *squareCardDetails `json:"card_details"`
	ReceiptURL  string             `json:"receipt_url"`
	ReferenceID string             `json:"reference_id"`
	OrderID     string             `json:"order_id"`
	Note        string             `json:"note"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

type squareRefund struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney squareMoney `json:"amount_money"`
	PaymentID   string      `json:"payment_id"`
	CreatedAt   string      `json:"created_at"`
}

type squareCustomer struct {
	ID           string `json:"id,omitempty"`
	GivenName    string `json:"given_name,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Note         string `json:"note,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type createPaymentRequest struct {
	SourceID       string      `json:"source_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	AmountMoney    squareMoney `json:"amount_money"`
	LocationID     string      `json:"location_id"`
	ReferenceID    string      `json:"reference_id,omitempty"`
	CustomerID     string      `json:"customer_id,omitempty"`
	Autocomplete   bool        `json:"autocomplete"`
	Note           string      `json:"note,omitempty"`
}

type refundPaymentRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	AmountMoney    squareMoney `json:"amount_money"`
	PaymentID      string      `json:"payment_id"`
	Reason         string      `json:"reason,omitempty"`
}

type paymentResponse struct {
	Payment squarePayment `json:"payment"`
}

type refundResponse struct {
	Refund squareRefund `json:"refund"`
}

type customerResponse struct {
	Customer squareCustomer `json:"customer"`
}

type cardsResponse struct {
	Cards []squareCard `json:"cards"`
}

type squareClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func newSquareClient(baseURL, accessToken string, httpClient *http.Client) *squareClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	return &squareClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      httpClient,
	}
}

func (c *squareClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Square-Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewUnavailableError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var squareErr squareErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&squareErr)
		detail := ""
		if len(squareErr.Errors) > 0 {
			detail = strings.TrimSpace(squareErr.Errors[0].Detail)
		}
		switch {
		case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
			return domain.NewUnavailableError(providerName, errors.New(resp.Status+" "+detail))
		case resp.StatusCode == http.StatusNotFound:
			return domain.NewRejectedError(providerName, detail, errNotFound)
		default:
			return domain.NewRejectedError(providerName, detail, errors.New(resp.Status))
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewUnavailableError(providerName, err)
	}
	return nil
}
