package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// newMigrate builds a migrate instance over the embedded migrations for the
// store's dialect. The returned driver must be released with closeDriver.
func (s *Store) newMigrate() (*migrate.Migrate, database.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(s.Dialect))
	if err != nil {
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	var driver database.Driver
	switch s.Dialect {
	case Postgres:
		driver, err = migratepgx.WithInstance(s.DB, &migratepgx.Config{})
	case SQLite:
		driver, err = migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unknown dialect %q", s.Dialect)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s migrate driver: %w", s.Dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(s.Dialect), driver)
	if err != nil {
		s.closeDriver(driver)
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, driver, nil
}

// closeDriver releases the dedicated connection the postgres driver holds. The
// sqlite driver's Close would close the shared *sql.DB, so it is left open.
func (s *Store) closeDriver(driver database.Driver) {
	if s.Dialect == Postgres {
		if err := driver.Close(); err != nil {
			slog.Warn("failed to close migrate driver", slog.Any("err", err), slog.String("component", "db_migrate"))
		}
	}
}

// Migrate applies all pending migrations. It is idempotent.
func (s *Store) Migrate() error {
	m, driver, err := s.newMigrate()
	if err != nil {
		return err
	}
	defer s.closeDriver(driver)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"), slog.String("dialect", string(s.Dialect)))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("err", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("dialect", string(s.Dialect)),
		slog.String("component", "db_migrate"))
	return nil
}

// MigrationVersion returns the current migration version and dirty state.
// A database with no migrations applied reports version 0.
func (s *Store) MigrationVersion() (version uint, dirty bool, err error) {
	m, driver, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer s.closeDriver(driver)

	v, d, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, d, nil
}
