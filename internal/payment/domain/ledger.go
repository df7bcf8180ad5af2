package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentRecord is a row of the payments ledger table. Amounts are minor units.
type PaymentRecord struct {
	ID                snowflake.ID
	Provider          string
	ProviderIntentID  *string
	ProviderPaymentID *string
	CustomerID        *string
	OrderID           string
	Category          string
	SubtotalAmount    int64
	TaxAmount         int64
	TotalAmount       int64
	Currency          string
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TaxLine snapshots one tax rate as it applied when the payment was created.
type TaxLine struct {
	ID              snowflake.ID
	PaymentID       snowflake.ID
	TaxRateID       string
	RateName        string
	RateDescription string
	RateBasisPoints int64
	Amount          int64
	CreatedAt       time.Time
}

// EventRecord is one received webhook delivery.
type EventRecord struct {
	ID              snowflake.ID
	Provider        string
	ProviderEventID string
	EventType       string
	IntentID        string
	Payload         datatypes.JSON
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// IntentLink is what checkout persists after the processor accepts an intent.
// PreviousIntentID is the intent the row carried when checkout read it; the
// link only applies if the row still carries it.
type IntentLink struct {
	PaymentID        snowflake.ID
	Provider         string
	IntentID         string
	PreviousIntentID string
	CustomerID       string
	SubtotalAmount   int64
	TaxAmount        int64
	TotalAmount      int64
	Currency         string
}

type Repository interface {
	CreatePayment(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRecord, error)
	FindPaymentByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*PaymentRecord, error)
	LinkIntent(ctx context.Context, db *gorm.DB, link IntentLink, updatedAt time.Time) error
	LinkProcessorPayment(ctx context.Context, db *gorm.DB, intentID, processorPaymentID string, updatedAt time.Time) error
	ApplyStatus(ctx context.Context, db *gorm.DB, intentID string, status IntentStatus, updatedAt time.Time) (bool, error)

	InsertTaxLines(ctx context.Context, db *gorm.DB, lines []TaxLine) error
	ListTaxLines(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]TaxLine, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
