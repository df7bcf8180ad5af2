package domain

import (
	"context"
	"strings"

	"github.com/smallbiznis/enrollpay/pkg/money"
)

// Category is what the customer is paying for. It decides how the amount is derived.
type Category string

const (
	CategoryGroup      Category = "group"
	CategoryYearly     Category = "yearly"
	CategoryIndividual Category = "individual"
	CategoryStore      Category = "store"
	CategoryEvent      Category = "event"
)

func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryGroup, CategoryYearly, CategoryIndividual, CategoryStore, CategoryEvent:
		return c, true
	default:
		return "", false
	}
}

// Tiered categories are priced per student from the payment settings.
func (c Category) Tiered() bool {
	return c == CategoryGroup || c == CategoryYearly
}

// Upstream categories carry a subtotal and total computed by an earlier pricing step.
func (c Category) Upstream() bool {
	return c == CategoryStore || c == CategoryEvent
}

type Student struct {
	ID   string
	Name string
}

// CheckoutRequest amounts are in minor units of Currency.
type CheckoutRequest struct {
	PaymentID string
	OrderID   string
	Category  Category
	Currency  string

	Students  []Student
	Quantity  int64
	UnitPrice int64
	Subtotal  int64
	Total     int64
	Tax       int64

	// Amount is what the browser claims to owe. It is never charged for
	// computed categories.
	Amount int64

	CustomerID     string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type TaxLine struct {
	TaxRateID   string
	Name        string
	Description string
	BasisPoints int64
	Amount      money.Money
}

type CheckoutResult struct {
	PaymentID            string
	IntentID             string
	ClientToken          string
	Provider             string
	Subtotal             money.Money
	Tax                  money.Money
	Total                money.Money
	TaxLines             []TaxLine
	RequiresClientSecret bool
}

type TaxLineInput struct {
	TaxRateID   string
	Name        string
	Description string
	BasisPoints int64
	Amount      int64
}

// CreateSessionRequest opens the ledger row a later checkout charges against.
type CreateSessionRequest struct {
	OrderID  string
	Category Category
	Currency string
	Subtotal int64
	Tax      int64
	Total    int64
	TaxLines []TaxLineInput
}

type Session struct {
	PaymentID string
	OrderID   string
	Category  Category
	Status    string
	Subtotal  money.Money
	Tax       money.Money
	Total     money.Money
}

type Service interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}
