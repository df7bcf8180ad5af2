package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/payment/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payments (
			id INTEGER PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			provider_intent_id TEXT,
			provider_payment_id TEXT,
			customer_id TEXT,
			order_id TEXT NOT NULL,
			category TEXT NOT NULL,
			subtotal_amount INTEGER NOT NULL DEFAULT 0,
			tax_amount INTEGER NOT NULL DEFAULT 0,
			total_amount INTEGER NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_taxes (
			id INTEGER PRIMARY KEY,
			payment_id INTEGER NOT NULL,
			tax_rate_id TEXT NOT NULL,
			rate_name TEXT NOT NULL,
			rate_description TEXT,
			rate_basis_points INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_events (
			id INTEGER PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			intent_id TEXT,
			payload TEXT,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_event_id ON payment_events(provider, provider_event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func seedPayment(t *testing.T, db *gorm.DB, r domain.Repository, id snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	err := r.CreatePayment(context.Background(), db, &domain.PaymentRecord{
		ID:        id,
		OrderID:   "order-" + id.String(),
		Category:  "group",
		Currency:  "CAD",
		Status:    string(domain.IntentStatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
}

func TestLinkIntentAndLookup(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()
	seedPayment(t, db, r, 101)

	err := r.LinkIntent(ctx, db, domain.IntentLink{
		PaymentID:      101,
		Provider:       "stripe",
		IntentID:       "pi_1",
		SubtotalAmount: 10000,
		TaxAmount:      500,
		TotalAmount:    10500,
		Currency:       "CAD",
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("link intent: %v", err)
	}

	got, err := r.FindPaymentByIntentID(ctx, db, "pi_1")
	if err != nil || got == nil {
		t.Fatalf("find by intent: %v", err)
	}
	if got.ID != 101 || got.TotalAmount != 10500 || got.Provider != "stripe" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := r.LinkIntent(ctx, db, domain.IntentLink{PaymentID: 999, IntentID: "pi_x"}, time.Now()); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected not found for unknown payment, got %v", err)
	}
}

func TestLinkIntentComparesPreviousIntent(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()
	seedPayment(t, db, r, 404)

	first := domain.IntentLink{PaymentID: 404, Provider: "stripe", IntentID: "pi_1", TotalAmount: 5000, Currency: "CAD"}
	if err := r.LinkIntent(ctx, db, first, time.Now()); err != nil {
		t.Fatalf("first link: %v", err)
	}

	// A writer that read the row before pi_1 was linked loses.
	stale := domain.IntentLink{PaymentID: 404, Provider: "stripe", IntentID: "pi_2", TotalAmount: 5000, Currency: "CAD"}
	if err := r.LinkIntent(ctx, db, stale, time.Now()); !errors.Is(err, domain.ErrIntentConflict) {
		t.Fatalf("expected intent conflict, got %v", err)
	}

	stale.PreviousIntentID = "pi_1"
	if err := r.LinkIntent(ctx, db, stale, time.Now()); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if got, _ := r.FindPaymentByIntentID(ctx, db, "pi_2"); got == nil || got.ID != 404 {
		t.Fatalf("expected row linked to pi_2, got %+v", got)
	}

	for _, status := range []domain.IntentStatus{domain.IntentStatusProcessing, domain.IntentStatusSucceeded} {
		if err := db.Exec(`UPDATE payments SET status = ? WHERE id = ?`, string(status), 404).Error; err != nil {
			t.Fatalf("set status: %v", err)
		}
		next := domain.IntentLink{PaymentID: 404, Provider: "stripe", IntentID: "pi_3", PreviousIntentID: "pi_2", Currency: "CAD"}
		if err := r.LinkIntent(ctx, db, next, time.Now()); !errors.Is(err, domain.ErrIntentConflict) {
			t.Fatalf("%s row: expected intent conflict, got %v", status, err)
		}
	}
}

func TestLedgerReaderResolvesProcessorPaymentID(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()
	seedPayment(t, db, r, 202)

	if err := r.LinkIntent(ctx, db, domain.IntentLink{
		PaymentID: 202, Provider: "square", IntentID: "local_1", CustomerID: "sq_cust_1", TotalAmount: 9999, Currency: "CAD",
	}, time.Now()); err != nil {
		t.Fatalf("link intent: %v", err)
	}
	if err := r.LinkProcessorPayment(ctx, db, "local_1", "sq_pay_1", time.Now()); err != nil {
		t.Fatalf("link processor payment: %v", err)
	}

	reader := NewLedgerReader(db, r)
	for _, id := range []string{"local_1", "sq_pay_1"} {
		amount, err := reader.FindAmountByIntentID(ctx, id)
		if err != nil {
			t.Fatalf("find amount %s: %v", id, err)
		}
		if amount.Total.MinorUnits() != 9999 || amount.Total.Currency() != "CAD" || amount.PaymentID != "202" {
			t.Fatalf("unexpected amount %+v", amount)
		}
		if amount.ProcessorPaymentID != "sq_pay_1" || amount.CustomerID != "sq_cust_1" || amount.Chargeable() {
			t.Fatalf("expected a linked, non-chargeable row, got %+v", amount)
		}
	}

	if _, err := reader.FindAmountByIntentID(ctx, "unknown"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found, got %v", err)
	}
}

func TestApplyStatusIsIdempotentAndKeepsTerminalState(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()
	seedPayment(t, db, r, 303)
	if err := r.LinkIntent(ctx, db, domain.IntentLink{PaymentID: 303, IntentID: "pi_3", Currency: "CAD"}, time.Now()); err != nil {
		t.Fatalf("link intent: %v", err)
	}

	changed, err := r.ApplyStatus(ctx, db, "pi_3", domain.IntentStatusSucceeded, time.Now())
	if err != nil || !changed {
		t.Fatalf("expected first transition, changed=%v err=%v", changed, err)
	}
	changed, err = r.ApplyStatus(ctx, db, "pi_3", domain.IntentStatusSucceeded, time.Now())
	if err != nil || changed {
		t.Fatalf("expected replay to be a no-op, changed=%v err=%v", changed, err)
	}
	changed, err = r.ApplyStatus(ctx, db, "pi_3", domain.IntentStatusProcessing, time.Now())
	if err != nil || changed {
		t.Fatalf("expected terminal status to be kept, changed=%v err=%v", changed, err)
	}

	got, _ := r.FindPayment(ctx, db, 303)
	if got.Status != string(domain.IntentStatusSucceeded) {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
}

func TestInsertEventDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()

	event := &domain.EventRecord{
		ID:              1,
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       "payment.succeeded",
		IntentID:        "pi_1",
		Payload:         datatypes.JSON([]byte(`{"id":"evt_1"}`)),
		ReceivedAt:      time.Now().UTC(),
	}
	inserted, err := r.InsertEvent(ctx, db, event)
	if err != nil || !inserted {
		t.Fatalf("expected insert, inserted=%v err=%v", inserted, err)
	}

	dup := *event
	dup.ID = 2
	inserted, err = r.InsertEvent(ctx, db, &dup)
	if err != nil || inserted {
		t.Fatalf("expected duplicate to be skipped, inserted=%v err=%v", inserted, err)
	}

	stored, err := r.FindEvent(ctx, db, "stripe", "evt_1")
	if err != nil || stored == nil || stored.ID != 1 || stored.ProcessedAt != nil {
		t.Fatalf("expected unprocessed stored event, got %+v err=%v", stored, err)
	}
	if err := r.MarkEventProcessed(ctx, db, stored.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	stored, _ = r.FindEvent(ctx, db, "stripe", "evt_1")
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}

	other := *event
	other.ID = 3
	other.Provider = "square"
	inserted, err = r.InsertEvent(ctx, db, &other)
	if err != nil || !inserted {
		t.Fatalf("expected same event id from another provider to insert, err=%v", err)
	}
}

func TestTaxLinesRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	r := Provide()
	ctx := context.Background()
	seedPayment(t, db, r, 404)

	now := time.Now().UTC()
	lines := []domain.TaxLine{
		{ID: 1, PaymentID: 404, TaxRateID: "gst", RateName: "GST", RateBasisPoints: 500, Amount: 500, CreatedAt: now},
		{ID: 2, PaymentID: 404, TaxRateID: "pst", RateName: "PST", RateBasisPoints: 700, Amount: 700, CreatedAt: now},
	}
	if err := r.InsertTaxLines(ctx, db, lines); err != nil {
		t.Fatalf("insert tax lines: %v", err)
	}
	got, err := r.ListTaxLines(ctx, db, 404)
	if err != nil {
		t.Fatalf("list tax lines: %v", err)
	}
	if len(got) != 2 || got[0].TaxRateID != "gst" || got[1].Amount != 700 {
		t.Fatalf("unexpected tax lines %+v", got)
	}
}
