package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the ledger schema at dbPath up to date by
// applying any pending migration from the embedded set. Safe to call on
// every startup; an up-to-date schema is a no-op.
func RunMigrations(dbPath string) error {
	// Migrations run on their own connection; the repository pool never
	// sees a half-migrated schema.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open ledger database %s for migration: %w", dbPath, err)
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded ledger migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("build migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply ledger migrations: %w", err)
	}
	return nil
}
