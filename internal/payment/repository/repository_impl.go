package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
	pkgdb "github.com/smallbiznis/enrollpay/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, provider, provider_intent_id, provider_payment_id, customer_id, order_id, category,
	subtotal_amount, tax_amount, total_amount, currency, status, created_at, updated_at`

func (r *repo) CreatePayment(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Provider,
		record.ProviderIntentID,
		record.ProviderPaymentID,
		record.CustomerID,
		record.OrderID,
		record.Category,
		record.SubtotalAmount,
		record.TaxAmount,
		record.TotalAmount,
		record.Currency,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindPaymentByIntentID matches either the continuation reference or the processor's charge id.
func (r *repo) FindPaymentByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE provider_intent_id = ? OR provider_payment_id = ?
		 LIMIT 1`,
		intentID,
		intentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// LinkIntent points the row at a new processor intent. It is a compare-and-set
// on the intent the caller last saw, and never touches a row that is already
// being charged or has been paid. A lost race reports ErrIntentConflict.
func (r *repo) LinkIntent(ctx context.Context, db *gorm.DB, link domain.IntentLink, updatedAt time.Time) error {
	var customerID *string
	if link.CustomerID != "" {
		customerID = &link.CustomerID
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider = ?, provider_intent_id = ?, provider_payment_id = NULL, customer_id = ?,
			subtotal_amount = ?, tax_amount = ?, total_amount = ?, currency = ?, status = ?, updated_at = ?
		 WHERE id = ?
		   AND (provider_intent_id IS NULL OR provider_intent_id = ?)
		   AND status NOT IN (?, ?)`,
		link.Provider,
		link.IntentID,
		customerID,
		link.SubtotalAmount,
		link.TaxAmount,
		link.TotalAmount,
		link.Currency,
		string(domain.IntentStatusPending),
		updatedAt,
		link.PaymentID,
		link.PreviousIntentID,
		string(domain.IntentStatusProcessing),
		string(domain.IntentStatusSucceeded),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	record, err := r.FindPayment(ctx, db, link.PaymentID)
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrPaymentNotFound
	}
	return domain.ErrIntentConflict
}

func (r *repo) LinkProcessorPayment(ctx context.Context, db *gorm.DB, intentID, processorPaymentID string, updatedAt time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_payment_id = ?, updated_at = ?
		 WHERE provider_intent_id = ?`,
		processorPaymentID,
		updatedAt,
		intentID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// ApplyStatus moves a payment to status. Terminal rows and rows already at
// status are left untouched, so replays report false.
func (r *repo) ApplyStatus(ctx context.Context, db *gorm.DB, intentID string, status domain.IntentStatus, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE (provider_intent_id = ? OR provider_payment_id = ?)
		   AND status <> ?
		   AND status NOT IN (?, ?, ?)`,
		string(status),
		updatedAt,
		intentID,
		intentID,
		string(status),
		string(domain.IntentStatusSucceeded),
		string(domain.IntentStatusFailed),
		string(domain.IntentStatusCanceled),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertTaxLines(ctx context.Context, db *gorm.DB, lines []domain.TaxLine) error {
	for _, line := range lines {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_taxes (
				id, payment_id, tax_rate_id, rate_name, rate_description,
				rate_basis_points, amount, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.PaymentID,
			line.TaxRateID,
			line.RateName,
			line.RateDescription,
			line.RateBasisPoints,
			line.Amount,
			line.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListTaxLines(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.TaxLine, error) {
	var items []domain.TaxLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, tax_rate_id, rate_name, rate_description,
			rate_basis_points, amount, created_at
		 FROM payment_taxes
		 WHERE payment_id = ?
		 ORDER BY id ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, intent_id, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.IntentID,
		event.Payload,
		event.ReceivedAt,
	)
	if res.Error != nil {
		// Redelivery hits the (provider, provider_event_id) unique index.
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, intent_id, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}
