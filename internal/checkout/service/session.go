package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/smallbiznis/enrollpay/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

// CreateSession writes the pending ledger row and its tax snapshot in one
// transaction. Checkout later charges against the returned payment id.
func (s *Service) CreateSession(ctx context.Context, req checkoutdomain.CreateSessionRequest) (*checkoutdomain.Session, error) {
	category, ok := checkoutdomain.ParseCategory(string(req.Category))
	if !ok {
		return nil, paymentdomain.NewValidationError("category", "unknown payment category")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, paymentdomain.NewValidationError("order_id", "order id is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if _, err := money.Zero(currency); err != nil {
		return nil, paymentdomain.NewValidationError("currency", "currency is not supported")
	}
	if req.Subtotal < 0 || req.Tax < 0 {
		return nil, paymentdomain.NewValidationError("subtotal", "amounts cannot be negative")
	}
	if req.Total != req.Subtotal+req.Tax {
		return nil, paymentdomain.NewValidationError("total", "total must equal subtotal plus tax")
	}

	now := time.Now().UTC()
	record := &paymentdomain.PaymentRecord{
		ID:             s.genID.Generate(),
		OrderID:        orderID,
		Category:       string(category),
		SubtotalAmount: req.Subtotal,
		TaxAmount:      req.Tax,
		TotalAmount:    req.Total,
		Currency:       currency,
		Status:         string(paymentdomain.IntentStatusPending),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	lines := make([]paymentdomain.TaxLine, 0, len(req.TaxLines))
	parts := make([]money.Money, 0, len(req.TaxLines))
	for _, in := range req.TaxLines {
		if strings.TrimSpace(in.TaxRateID) == "" || in.Amount < 0 || in.BasisPoints < 0 {
			return nil, paymentdomain.NewValidationError("tax_lines", "tax lines need a rate id and non-negative amounts")
		}
		amount, err := money.FromMinorUnits(in.Amount, currency)
		if err != nil {
			return nil, paymentdomain.NewValidationError("tax_lines", err.Error())
		}
		parts = append(parts, amount)
		lines = append(lines, paymentdomain.TaxLine{
			ID:              s.genID.Generate(),
			PaymentID:       record.ID,
			TaxRateID:       strings.TrimSpace(in.TaxRateID),
			RateName:        strings.TrimSpace(in.Name),
			RateDescription: strings.TrimSpace(in.Description),
			RateBasisPoints: in.BasisPoints,
			Amount:          in.Amount,
			CreatedAt:       now,
		})
	}

	if len(parts) > 0 {
		lineTotal, err := money.Sum(currency, parts...)
		if err != nil {
			return nil, paymentdomain.NewValidationError("tax_lines", err.Error())
		}
		if lineTotal.MinorUnits() != req.Tax {
			return nil, paymentdomain.NewValidationError("tax_lines", "tax lines must add up to the tax amount")
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreatePayment(ctx, tx, record); err != nil {
			return err
		}
		return s.repo.InsertTaxLines(ctx, tx, lines)
	})
	if err != nil {
		s.processorMetrics.IncLedgerError("create_session", err)
		s.log.Error("create payment session failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, &paymentdomain.Error{Kind: paymentdomain.ErrLedgerPersistenceFailed, Message: "payment session could not be recorded", Err: err}
	}

	subtotal, _ := money.FromMinorUnits(record.SubtotalAmount, currency)
	tax, _ := money.FromMinorUnits(record.TaxAmount, currency)
	total, _ := money.FromMinorUnits(record.TotalAmount, currency)
	return &checkoutdomain.Session{
		PaymentID: record.ID.String(),
		OrderID:   orderID,
		Category:  category,
		Status:    record.Status,
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     total,
	}, nil
}
