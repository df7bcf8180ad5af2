package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

type ledgerReader struct {
	db   *gorm.DB
	repo domain.Repository
}

// NewLedgerReader exposes the stored charge total to token-model adapters.
func NewLedgerReader(db *gorm.DB, repo domain.Repository) domain.LedgerReader {
	return &ledgerReader{db: db, repo: repo}
}

func (l *ledgerReader) FindAmountByIntentID(ctx context.Context, intentID string) (*domain.LedgerAmount, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, domain.ErrPaymentNotFound
	}
	record, err := l.repo.FindPaymentByIntentID(ctx, l.db, intentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrPaymentNotFound
	}
	total, err := money.FromMinorUnits(record.TotalAmount, record.Currency)
	if err != nil {
		return nil, err
	}
	amount := &domain.LedgerAmount{
		PaymentID: record.ID.String(),
		Total:     total,
		Status:    domain.IntentStatus(record.Status),
	}
	if record.ProviderPaymentID != nil {
		amount.ProcessorPaymentID = *record.ProviderPaymentID
	}
	if record.CustomerID != nil {
		amount.CustomerID = *record.CustomerID
	}
	return amount, nil
}
