package migration

import (
	"io/fs"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smallbiznis/enrollpay/internal/config"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for base := range ups {
		if !downs[base] {
			t.Fatalf("migration %s has no down file", base)
		}
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected version 3, got %d", v)
	}
}

func TestEventsTableHasDedupeIndex(t *testing.T) {
	raw, err := embeddedMigrations.ReadFile(migrationsDir + "/000002_payment_events.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "UNIQUE INDEX IF NOT EXISTS ux_payment_events_provider_event_id") {
		t.Fatalf("expected unique index on provider event id")
	}
}

func TestParseVersion(t *testing.T) {
	if v, ok := parseVersion("000012_add.up.sql"); !ok || v != 12 {
		t.Fatalf("got %d %v", v, ok)
	}
	if _, ok := parseVersion("init.up.sql"); ok {
		t.Fatalf("expected invalid name")
	}
}

func TestAutoMigrateSkipsWithoutPostgres(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	if err := AutoMigrate(nil, config.Config{DBAutoMigrate: false, DBType: "postgres"}, log); err != nil {
		t.Fatalf("disabled: %v", err)
	}
	if err := AutoMigrate(nil, config.Config{DBAutoMigrate: true, DBType: "sqlite"}, log); err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one skip warning, got %d", logs.Len())
	}
}
