package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm translated", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "postgres", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "postgres serialization", err: &pgconn.PgError{Code: "40001"}, want: false},
		{name: "mysql", err: fmt.Errorf("insert: %w", &mysqldriver.MySQLError{Number: 1062}), want: true},
		{name: "mysql lock timeout", err: &mysqldriver.MySQLError{Number: 1205}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payment_events.provider"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tt.err); got != tt.want {
				t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "3306", Name: "enrollpay", User: "app", Password: "pw", SSLMode: "disable"}

	cfg.Driver = "mysql"
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("mysql dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "app:pw@tcp(db:3306)/enrollpay?") || !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("unexpected mysql dsn %q", dsn)
	}

	cfg.Driver = "postgres"
	dsn, _ = cfg.DSN()
	if !strings.Contains(dsn, "dbname=enrollpay") || !strings.Contains(dsn, "TimeZone=UTC") {
		t.Fatalf("unexpected postgres dsn %q", dsn)
	}

	dsn, _ = Config{Driver: "sqlite"}.DSN()
	if dsn != defaultSQLiteFile {
		t.Fatalf("expected default sqlite file, got %q", dsn)
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Config{Driver: driver, Host: "localhost", Port: "1", Name: "enrollpay"}.Dialector()
		if err != nil || d == nil {
			t.Fatalf("%s: expected dialector, got %v", driver, err)
		}
	}
	if _, err := (Config{Driver: "oracle"}).Dialector(); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestInstrumentTracesLedgerQueries(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:instrument?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	if err := Instrument(conn, Config{Driver: "sqlite", Name: "ledger"}, tp); err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if len(conn.Config.Plugins) != 2 {
		t.Fatalf("expected tracing and pool metrics plugins, got %d", len(conn.Config.Plugins))
	}

	var one int
	if err := conn.Raw("SELECT 1").Scan(&one).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recorder.Ended()) == 0 {
		t.Fatalf("expected a span for the ledger query")
	}
}
