package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/observability/logger"
	"github.com/smallbiznis/enrollpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/enrollpay/internal/payment/domain"
	"github.com/smallbiznis/enrollpay/internal/payment/selector"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome   Outcome
	EventType string
	IntentID  string
	// Applied is true when the ledger status actually changed.
	Applied bool
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     paymentdomain.Repository
	Selector *selector.Selector
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     paymentdomain.Repository
	selector *selector.Selector
	metrics  *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		repo:     p.Repo,
		selector: p.Selector,
		metrics:  p.Metrics,
	}
}

// Ingest verifies and normalizes a raw delivery with the adapter named in the
// URL, then applies it to the ledger once per provider event id.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, err := s.selector.ProviderFor(ctx, provider)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithProvider(ctx, provider)
	log := logger.WithContext(ctx, s.log)

	event, err := adapter.ParseWebhookEvent(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			log.Debug("payment webhook ignored", zap.Error(err))
			return &Result{Outcome: OutcomeIgnored}, nil
		}
		log.Warn("payment webhook rejected", zap.Error(err))
		return nil, err
	}

	now := time.Now().UTC()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.EventID,
		EventType:       event.Type.String(),
		IntentID:        event.IntentID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.EventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrMalformedPayload
		}
		if stored.ProcessedAt != nil {
			log.Info("payment webhook redelivered", zap.String("event_id", event.EventID))
			return &Result{Outcome: OutcomeDuplicate, EventType: stored.EventType, IntentID: stored.IntentID}, nil
		}
	}

	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.apply(ctx, tx, log, event, now)
		if err != nil {
			return err
		}
		return s.repo.MarkEventProcessed(ctx, tx, stored.ID, now)
	})
	if err != nil {
		log.Error("apply payment webhook failed", zap.String("event_id", event.EventID), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordPaymentEvent(ctx, provider, event.Type.String())
	log.Info("payment webhook processed",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.Type.String()),
		zap.String("intent_id", event.IntentID),
		zap.Bool("applied", applied),
	)
	return &Result{Outcome: OutcomeProcessed, EventType: event.Type.String(), IntentID: event.IntentID, Applied: applied}, nil
}

// apply moves the ledger row to the status the event implies. Token-model
// processors report their own charge id, so the continuation reference in the
// metadata is tried next and linked to that charge id.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, log *zap.Logger, event *paymentdomain.ParsedWebhookEvent, now time.Time) (bool, error) {
	status, ok := event.Type.IntentStatus()
	if !ok || event.IntentID == "" {
		return false, nil
	}

	lookupID := event.IntentID
	record, err := s.repo.FindPaymentByIntentID(ctx, tx, lookupID)
	if err != nil {
		return false, err
	}
	if record == nil {
		reference := strings.TrimSpace(event.Metadata["reference_id"])
		if reference != "" && reference != event.IntentID {
			record, err = s.repo.FindPaymentByIntentID(ctx, tx, reference)
			if err != nil {
				return false, err
			}
			if record != nil {
				if err := s.repo.LinkProcessorPayment(ctx, tx, reference, event.IntentID, now); err != nil {
					return false, err
				}
				lookupID = reference
			}
		}
	}
	if record == nil {
		log.Warn("payment webhook has no ledger row", zap.String("intent_id", event.IntentID))
		return false, nil
	}

	return s.repo.ApplyStatus(ctx, tx, lookupID, status, now)
}
