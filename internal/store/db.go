// Package store is the durable persistence layer backing Jobs, pipeline
// contexts, state history, handoff history and the Story read model
// (spec.md §4, §6 Store section). It uses the pure-Go ncruces/go-sqlite3
// driver, grounded on the reference zjrosen-perles sqlite
// infrastructure (internal/infrastructure/sqlite), with schema migrations
// run through golang-migrate instead of the inline-schema-string approach
// that repo's tests use, so the schema can evolve across releases.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps a *sql.DB for the orchestrator's durable store, kept open for
// the process lifetime.
type DB struct {
	*sql.DB
}

// Open creates (if needed) the parent directory with 0700 permissions,
// opens the SQLite database at path, and runs all pending migrations,
// following the directory-permission convention in zjrosen-perles'
// db_test.go (TestNewDB_CreatesDirectory).
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // ncruces/go-sqlite3 is single-writer; serialize access

	if err := migrateUp(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("building migrate driver: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
