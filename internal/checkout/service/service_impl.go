package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	checkoutdomain "github.com/smallbiznis/enrollpay/internal/checkout/domain"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/observability/logger"
	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/internal/payment/selector"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

const compensationTimeout = 15 * time.Second

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             paymentdomain.Repository
	Selector         *selector.Selector
	Settings         *config.PaymentSettingsHolder
	Metrics          *metrics.Metrics          `optional:"true"`
	ProcessorMetrics *metrics.ProcessorMetrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	repo             paymentdomain.Repository
	selector         *selector.Selector
	settings         *config.PaymentSettingsHolder
	metrics          *metrics.Metrics
	processorMetrics *metrics.ProcessorMetrics
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("payment.checkout"),
		genID:            p.GenID,
		repo:             p.Repo,
		selector:         p.Selector,
		settings:         p.Settings,
		metrics:          p.Metrics,
		processorMetrics: p.ProcessorMetrics,
	}
}

// amounts is the charge breakdown before tax reconciliation, in minor units.
type amounts struct {
	currency string
	subtotal money.Money
	formTax  money.Money
}

// Checkout charges an existing ledger row through the active provider.
func (s *Service) Checkout(ctx context.Context, req checkoutdomain.CheckoutRequest) (*checkoutdomain.CheckoutResult, error) {
	category, ok := checkoutdomain.ParseCategory(string(req.Category))
	if !ok {
		return nil, paymentdomain.NewValidationError("category", "unknown payment category")
	}
	req.Category = category

	resolved, err := s.resolveAmounts(req, s.settings.Get())
	if err != nil {
		return nil, err
	}

	record, err := s.loadPaymentRecord(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(record.Currency, resolved.currency) {
		return nil, paymentdomain.NewValidationError("currency", "currency does not match the payment session")
	}
	status := paymentdomain.IntentStatus(record.Status)
	switch {
	case status == paymentdomain.IntentStatusSucceeded:
		return nil, paymentdomain.NewValidationError("payment_id", "payment is already completed")
	case status == paymentdomain.IntentStatusProcessing,
		record.ProviderPaymentID != nil && !status.Terminal():
		return nil, paymentdomain.NewValidationError("payment_id", "payment is already being processed")
	}

	tax, lines, err := s.reconcileTax(ctx, record, resolved.formTax)
	if err != nil {
		return nil, err
	}

	total, err := resolved.subtotal.Add(tax)
	if err != nil {
		return nil, paymentdomain.NewValidationError("total", err.Error())
	}
	if req.Category.Upstream() && total.MinorUnits() != req.Total {
		return nil, paymentdomain.NewValidationError("total", "total must equal subtotal plus tax")
	}
	if total.MinorUnits() <= 0 {
		return nil, paymentdomain.NewValidationError("total", "total must be positive")
	}
	if !req.Category.Upstream() && req.Amount != 0 && req.Amount != total.MinorUnits() {
		s.log.Debug("client amount ignored",
			zap.String("payment_id", record.ID.String()),
			zap.Int64("client_amount", req.Amount),
			zap.Int64("computed_total", total.MinorUnits()),
		)
	}

	provider, err := s.selector.Provider(ctx)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithPaymentID(logger.WithProvider(ctx, provider.Name()), record.ID.String())
	log := logger.WithContext(ctx, s.log)

	var previous string
	if record.ProviderIntentID != nil {
		previous = *record.ProviderIntentID
	}
	if previous != "" && !status.Terminal() {
		if err := s.releasePreviousIntent(ctx, log, record, previous); err != nil {
			return nil, err
		}
	}

	intent, err := provider.CreatePaymentIntent(ctx, paymentdomain.CreateIntentInput{
		Amount:         total,
		Metadata:       intentMetadata(req, record),
		Description:    req.Description,
		CustomerID:     req.CustomerID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		log.Warn("create payment intent failed", zap.Error(err))
		return nil, err
	}

	link := paymentdomain.IntentLink{
		PaymentID:        record.ID,
		Provider:         provider.Name(),
		IntentID:         intent.ID,
		PreviousIntentID: previous,
		CustomerID:       strings.TrimSpace(req.CustomerID),
		SubtotalAmount:   resolved.subtotal.MinorUnits(),
		TaxAmount:        tax.MinorUnits(),
		TotalAmount:      total.MinorUnits(),
		Currency:         total.Currency(),
	}
	if err := s.repo.LinkIntent(ctx, s.db, link, time.Now().UTC()); err != nil {
		if errors.Is(err, paymentdomain.ErrIntentConflict) {
			log.Warn("payment session changed during checkout", zap.String("intent_id", intent.ID))
			s.compensate(ctx, log, provider, intent.ID)
			return nil, &paymentdomain.Error{
				Kind:    paymentdomain.ErrMissingPaymentContext,
				Field:   "payment_id",
				Message: "payment session changed during checkout",
				Err:     err,
			}
		}
		s.processorMetrics.IncLedgerError("link_intent", err)
		log.Error("persist payment intent failed", zap.String("intent_id", intent.ID), zap.Error(err))
		s.compensate(ctx, log, provider, intent.ID)
		return nil, &paymentdomain.Error{
			Kind:    paymentdomain.ErrLedgerPersistenceFailed,
			Message: "payment intent could not be recorded",
			Err:     err,
		}
	}

	s.metrics.RecordPaymentIntent(ctx, provider.Name(), string(intent.Status))
	log.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("category", string(req.Category)),
		zap.Int64("total", total.MinorUnits()),
	)

	return &checkoutdomain.CheckoutResult{
		PaymentID:            record.ID.String(),
		IntentID:             intent.ID,
		ClientToken:          intent.ClientSecret,
		Provider:             provider.Name(),
		Subtotal:             resolved.subtotal,
		Tax:                  tax,
		Total:                total,
		TaxLines:             lines,
		RequiresClientSecret: provider.RequiresClientSecret(),
	}, nil
}

// compensate cancels an intent the ledger does not know about. Its outcome is
// logged and never replaces the persistence error returned to the caller.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, provider paymentdomain.Provider, intentID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := provider.CancelPaymentIntent(cctx, intentID); err != nil {
		s.metrics.RecordCompensation(ctx, provider.Name(), "cancel_failed")
		log.Error("compensating cancel failed, processor intent left without ledger row",
			zap.String("intent_id", intentID),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordCompensation(ctx, provider.Name(), "canceled")
	log.Warn("compensating cancel succeeded", zap.String("intent_id", intentID))
}

// releasePreviousIntent cancels the open intent an earlier checkout linked to
// the row, so that only one intent per payment can be paid.
func (s *Service) releasePreviousIntent(ctx context.Context, log *zap.Logger, record *paymentdomain.PaymentRecord, intentID string) error {
	name := record.Provider
	if name == "" {
		name = s.selector.ActiveName()
	}
	provider, err := s.selector.ProviderFor(ctx, name)
	if err != nil {
		return err
	}
	if _, err := provider.CancelPaymentIntent(ctx, intentID); err != nil {
		log.Warn("previous payment intent could not be canceled",
			zap.String("previous_intent_id", intentID),
			zap.Error(err),
		)
		return err
	}
	s.metrics.RecordCompensation(ctx, provider.Name(), "superseded")
	log.Info("previous payment intent canceled", zap.String("previous_intent_id", intentID))
	return nil
}

func (s *Service) loadPaymentRecord(ctx context.Context, rawID string) (*paymentdomain.PaymentRecord, error) {
	rawID = strings.TrimSpace(rawID)
	if rawID == "" {
		return nil, &paymentdomain.Error{Kind: paymentdomain.ErrMissingPaymentContext, Field: "payment_id", Message: "payment session is required"}
	}
	id, err := snowflake.ParseString(rawID)
	if err != nil {
		return nil, &paymentdomain.Error{Kind: paymentdomain.ErrMissingPaymentContext, Field: "payment_id", Message: "payment session not found"}
	}
	record, err := s.repo.FindPayment(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	if record == nil {
		return nil, &paymentdomain.Error{Kind: paymentdomain.ErrMissingPaymentContext, Field: "payment_id", Message: "payment session not found"}
	}
	return record, nil
}

// reconcileTax prefers the tax rows persisted with the session. A disagreement
// with the tax the customer was shown is logged and the shown amount is charged.
func (s *Service) reconcileTax(ctx context.Context, record *paymentdomain.PaymentRecord, formTax money.Money) (money.Money, []checkoutdomain.TaxLine, error) {
	rows, err := s.repo.ListTaxLines(ctx, s.db, record.ID)
	if err != nil {
		return money.Money{}, nil, fmt.Errorf("load tax lines: %w", err)
	}
	if len(rows) == 0 {
		return formTax, nil, nil
	}

	lines := make([]checkoutdomain.TaxLine, 0, len(rows))
	parts := make([]money.Money, 0, len(rows))
	for _, row := range rows {
		amount, err := money.FromMinorUnits(row.Amount, record.Currency)
		if err != nil {
			return money.Money{}, nil, fmt.Errorf("tax line %s: %w", row.TaxRateID, err)
		}
		parts = append(parts, amount)
		lines = append(lines, checkoutdomain.TaxLine{
			TaxRateID:   row.TaxRateID,
			Name:        row.RateName,
			Description: row.RateDescription,
			BasisPoints: row.RateBasisPoints,
			Amount:      amount,
		})
	}
	persisted, err := money.Sum(record.Currency, parts...)
	if err != nil {
		return money.Money{}, nil, fmt.Errorf("sum tax lines: %w", err)
	}

	if !persisted.Equal(formTax) {
		s.log.Warn("tax mismatch between persisted tax lines and checkout form",
			zap.String("payment_id", record.ID.String()),
			zap.Int64("persisted_tax", persisted.MinorUnits()),
			zap.Int64("form_tax", formTax.MinorUnits()),
		)
		return formTax, lines, nil
	}
	return persisted, lines, nil
}

func (s *Service) resolveAmounts(req checkoutdomain.CheckoutRequest, settings config.PaymentSettings) (*amounts, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.NewValidationError("currency", "currency is required")
	}
	if _, err := money.Zero(currency); err != nil {
		return nil, paymentdomain.NewValidationError("currency", "currency is not supported")
	}
	if req.Tax < 0 {
		return nil, paymentdomain.NewValidationError("tax", "tax cannot be negative")
	}

	var subtotal, tax int64
	switch {
	case req.Category.Tiered():
		if len(req.Students) == 0 {
			return nil, paymentdomain.NewValidationError("students", "at least one student is required")
		}
		if !strings.EqualFold(currency, settings.Currency) {
			return nil, paymentdomain.NewValidationError("currency", "currency does not match the price list")
		}
		tier, ok := settings.Pricing[string(req.Category)]
		if !ok || tier.First <= 0 {
			return nil, &paymentdomain.Error{Kind: paymentdomain.ErrConfiguration, Field: "payment.pricing." + string(req.Category), Message: "pricing is not configured"}
		}
		price, err := tieredSubtotal(tier, len(req.Students), currency)
		if err != nil {
			return nil, err
		}
		subtotal, tax = price, req.Tax
	case req.Category == checkoutdomain.CategoryIndividual:
		if req.Quantity < 1 {
			return nil, paymentdomain.NewValidationError("quantity", "quantity must be at least 1")
		}
		if req.UnitPrice <= 0 {
			return nil, paymentdomain.NewValidationError("unit_price", "unit price must be positive")
		}
		unit, err := money.FromMinorUnits(req.UnitPrice, currency)
		if err != nil {
			return nil, paymentdomain.NewValidationError("unit_price", err.Error())
		}
		line, err := unit.MultiplyInt(req.Quantity)
		if err != nil {
			return nil, paymentdomain.NewValidationError("quantity", err.Error())
		}
		subtotal, tax = line.MinorUnits(), req.Tax
	default:
		if req.Subtotal < 0 {
			return nil, paymentdomain.NewValidationError("subtotal", "subtotal cannot be negative")
		}
		if req.Total < req.Subtotal {
			return nil, paymentdomain.NewValidationError("total", "total cannot be less than subtotal")
		}
		derived := req.Total - req.Subtotal
		if req.Tax != 0 && req.Tax != derived {
			return nil, paymentdomain.NewValidationError("tax", "tax does not match total minus subtotal")
		}
		subtotal, tax = req.Subtotal, derived
	}

	sub, err := money.FromMinorUnits(subtotal, currency)
	if err != nil {
		return nil, paymentdomain.NewValidationError("subtotal", err.Error())
	}
	formTax, err := money.FromMinorUnits(tax, currency)
	if err != nil {
		return nil, paymentdomain.NewValidationError("tax", err.Error())
	}
	return &amounts{currency: currency, subtotal: sub, formTax: formTax}, nil
}

// tieredSubtotal prices the first student at tier.First and every other one at tier.Subsequent.
func tieredSubtotal(tier config.PricingTier, students int, currency string) (int64, error) {
	first, err := money.FromMinorUnits(tier.First, currency)
	if err != nil {
		return 0, err
	}
	rest, err := money.FromMinorUnits(tier.Subsequent, currency)
	if err != nil {
		return 0, err
	}
	rest, err = rest.MultiplyInt(int64(students - 1))
	if err != nil {
		return 0, paymentdomain.NewValidationError("students", err.Error())
	}
	total, err := first.Add(rest)
	if err != nil {
		if errors.Is(err, money.ErrOverflow) {
			return 0, paymentdomain.NewValidationError("students", "too many students")
		}
		return 0, err
	}
	return total.MinorUnits(), nil
}

func intentMetadata(req checkoutdomain.CheckoutRequest, record *paymentdomain.PaymentRecord) map[string]string {
	out := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		out[k] = v
	}
	out["payment_id"] = record.ID.String()
	out["order_id"] = record.OrderID
	out["category"] = string(req.Category)
	return out
}
