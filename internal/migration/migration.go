package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/enrollpay/internal/config"
)

const versionTable = "enrollpay_schema_migrations"

// AutoMigrate brings the ledger schema up to date at startup when
// DATABASE_AUTO_MIGRATE is on. The embedded SQL targets postgres; other
// drivers are left to the operator.
func AutoMigrate(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		return nil
	}
	if cfg.DBType != "postgres" {
		log.Warn("ledger migrations skipped for non-postgres database", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	log.Info("ledger schema up to date", zap.Uint("version", latest))
	return nil
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration: nil database handle")
	}
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionTable})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	// m.Close would also close db, which the gorm pool still owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply ledger migrations: %w", err)
	}
	return nil
}

// LatestVersion is the highest embedded up migration.
func LatestVersion() (uint, error) {
	versions, err := embeddedVersions()
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, errors.New("migration: no embedded migrations")
	}
	return versions[len(versions)-1], nil
}

func embeddedVersions() ([]uint, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	var versions []uint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		v, ok := parseVersion(e.Name())
		if !ok {
			return nil, fmt.Errorf("migration: bad file name %q", e.Name())
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// parseVersion reads the numeric prefix of "000002_payment_events.up.sql".
func parseVersion(name string) (uint, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
