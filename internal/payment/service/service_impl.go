package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/observability/logger"
	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/internal/payment/selector"
	"github.com/smallbiznis/enrollpay/pkg/money"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     paymentdomain.Repository
	Selector *selector.Selector
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service forwards intent, refund and customer operations to the active
// provider and keeps the ledger in step with synchronous results.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     paymentdomain.Repository
	selector *selector.Selector
	metrics  *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		repo:     p.Repo,
		selector: p.Selector,
		metrics:  p.Metrics,
	}
}

// PublicConfig is what the browser needs to mount the active provider's SDK.
type PublicConfig struct {
	Provider             string
	RequiresClientSecret bool
	RequiresCheckoutURL  bool
	Configured           bool
	Keys                 map[string]string
}

type RefundInput struct {
	IntentID string
	// Amount in minor units. Zero refunds the full charge.
	Amount   int64
	Currency string
	Reason   string
}

func (s *Service) provider(ctx context.Context) (paymentdomain.Provider, context.Context, error) {
	p, err := s.selector.Provider(ctx)
	if err != nil {
		return nil, ctx, err
	}
	return p, logger.WithProvider(ctx, p.Name()), nil
}

func (s *Service) RetrieveIntent(ctx context.Context, id string, opts paymentdomain.RetrieveOptions) (*paymentdomain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.NewValidationError("intent_id", "intent id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return p.RetrievePaymentIntent(ctx, id, opts)
}

// ConfirmIntent charges a token-model reference or confirms a client-secret
// intent. A synchronous result is written to the ledger straight away; the
// webhook that follows is then a no-op.
func (s *Service) ConfirmIntent(ctx context.Context, id, paymentMethodToken, returnURL string) (*paymentdomain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.NewValidationError("intent_id", "intent id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log)

	record, err := s.repo.FindPaymentByIntentID(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("load payment for %s: %w", id, err)
	}
	if record != nil {
		switch paymentdomain.IntentStatus(record.Status) {
		case paymentdomain.IntentStatusSucceeded:
			return nil, paymentdomain.NewValidationError("intent_id", "payment has already been charged")
		case paymentdomain.IntentStatusCanceled:
			return nil, paymentdomain.NewValidationError("intent_id", "payment has been canceled")
		}
	}

	intent, err := p.ConfirmPaymentIntent(ctx, id, paymentMethodToken, returnURL)
	if err != nil {
		log.Warn("confirm payment intent failed", zap.String("intent_id", id), zap.Error(err))
		return nil, err
	}

	if err := s.recordConfirmation(ctx, id, intent); err != nil {
		// The charge already happened; the webhook will reconcile the ledger.
		log.Error("record confirmation failed",
			zap.String("intent_id", id),
			zap.String("processor_payment_id", intent.ID),
			zap.Error(err),
		)
	}
	s.metrics.RecordPaymentIntent(ctx, p.Name(), string(intent.Status))
	return intent, nil
}

func (s *Service) recordConfirmation(ctx context.Context, reference string, intent *paymentdomain.PaymentIntent) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if intent.ID != "" && intent.ID != reference {
			if err := s.repo.LinkProcessorPayment(ctx, tx, reference, intent.ID, now); err != nil {
				if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
					return nil
				}
				return err
			}
		}
		if intent.Status == "" || intent.Status == paymentdomain.IntentStatusPending {
			return nil
		}
		_, err := s.repo.ApplyStatus(ctx, tx, reference, intent.Status, now)
		return err
	})
}

func (s *Service) CancelIntent(ctx context.Context, id string) (*paymentdomain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.NewValidationError("intent_id", "intent id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	intent, err := p.CancelPaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.ApplyStatus(ctx, s.db, id, paymentdomain.IntentStatusCanceled, time.Now().UTC()); err != nil {
		logger.WithContext(ctx, s.log).Error("record cancel failed", zap.String("intent_id", id), zap.Error(err))
	}
	return intent, nil
}

func (s *Service) Refund(ctx context.Context, in RefundInput) (*paymentdomain.RefundResponse, error) {
	in.IntentID = strings.TrimSpace(in.IntentID)
	if in.IntentID == "" {
		return nil, paymentdomain.NewValidationError("intent_id", "intent id is required")
	}
	req := paymentdomain.RefundRequest{
		IntentID:       in.IntentID,
		Reason:         strings.TrimSpace(in.Reason),
		IdempotencyKey: paymentdomain.IdempotencyKeyFromContext(ctx),
	}
	switch {
	case in.Amount < 0:
		return nil, paymentdomain.NewValidationError("amount", "refund amount must be positive")
	case in.Amount > 0:
		amount, err := money.FromMinorUnits(in.Amount, in.Currency)
		if err != nil {
			return nil, &paymentdomain.Error{Kind: paymentdomain.ErrValidation, Field: "currency", Err: err}
		}
		req.Amount = &amount
	}

	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := p.CreateRefund(ctx, req)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("refund failed", zap.String("intent_id", in.IntentID), zap.Error(err))
		return nil, err
	}
	logger.WithContext(ctx, s.log).Info("refund created",
		zap.String("intent_id", in.IntentID),
		zap.String("refund_id", resp.ID),
		zap.String("status", string(resp.Status)),
	)
	return resp, nil
}

func (s *Service) CreateCustomer(ctx context.Context, in paymentdomain.CustomerInput) (*paymentdomain.Customer, error) {
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return p.CreateCustomer(ctx, in)
}

func (s *Service) RetrieveCustomer(ctx context.Context, id string) (*paymentdomain.Customer, error) {
	if strings.TrimSpace(id) == "" {
		return nil, paymentdomain.NewValidationError("customer_id", "customer id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return p.RetrieveCustomer(ctx, strings.TrimSpace(id))
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, in paymentdomain.CustomerInput) (*paymentdomain.Customer, error) {
	if strings.TrimSpace(id) == "" {
		return nil, paymentdomain.NewValidationError("customer_id", "customer id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return p.UpdateCustomer(ctx, strings.TrimSpace(id), in)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return paymentdomain.NewValidationError("customer_id", "customer id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return err
	}
	return p.DeleteCustomer(ctx, strings.TrimSpace(id))
}

func (s *Service) ListPaymentMethods(ctx context.Context, customerID string) ([]paymentdomain.PaymentMethod, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, paymentdomain.NewValidationError("customer_id", "customer id is required")
	}
	p, ctx, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return p.ListPaymentMethods(ctx, strings.TrimSpace(customerID))
}

func (s *Service) PublicConfig(ctx context.Context) (*PublicConfig, error) {
	p, _, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	return &PublicConfig{
		Provider:             p.Name(),
		RequiresClientSecret: p.RequiresClientSecret(),
		RequiresCheckoutURL:  p.RequiresCheckoutURL(),
		Configured:           p.IsConfigured(),
		Keys:                 p.PublicConfig(),
	}, nil
}

// CSPDomains returns the active provider's origins. It never fails: an
// unresolvable provider yields an empty set.
func (s *Service) CSPDomains(ctx context.Context) paymentdomain.CSPDomains {
	p, err := s.selector.Provider(ctx)
	if err != nil {
		return paymentdomain.CSPDomains{}
	}
	return p.CSPDomains()
}
