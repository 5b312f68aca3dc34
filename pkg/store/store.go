// Package store persists every emitted event to SQLite with enough schema
// for filtered queries, resume by id, and bounded-size retention. It is the
// authoritative on-disk sequence behind the in-memory ring log.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Retention defaults: age-based first, then count-based.
const (
	DefaultMaxAgeDays = 30
	DefaultMaxEvents  = 10000
)

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file. Its parent directory is created if
	// missing; failure to do so surfaces to the recovery manager.
	Path       string
	MaxAgeDays int
	MaxEvents  int
}

func (c *Config) applyDefaults() {
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultMaxAgeDays
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
}

// Store wraps the SQLite database. Writes go through a single background
// writer goroutine (see writer.go); readers run concurrently thanks to WAL.
type Store struct {
	db  *sql.DB
	cfg Config

	writer *writer
	prune  *pruner
}

// Open creates or opens the database, applies pragmas and migrations, and
// starts the background writer. Any failure here means persistence is
// unavailable for this run; the caller is expected to fall back to
// memory-only mode.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers internally; a single connection avoids
	// SQLITE_BUSY between the writer goroutine and readers under WAL.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, cfg: cfg}
	s.prune = newPruner(s)
	s.writer = newWriter(s)
	s.writer.start()

	slog.Info("Durable store opened",
		"path", cfg.Path,
		"max_age_days", cfg.MaxAgeDays,
		"max_events", cfg.MaxEvents)
	return s, nil
}

// runMigrations applies the embedded schema migrations.
func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver; closing the migrate instance would also
	// close the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

// Close drains pending writes and closes the database. Safe to call once.
func (s *Store) Close() error {
	s.writer.stop()
	s.prune.wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	slog.Info("Durable store closed")
	return nil
}

// PendingWrites reports the number of queued, not-yet-persisted operations.
func (s *Store) PendingWrites() int {
	return s.writer.pending()
}

// CountEvents returns the number of rows in the events table.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// nowTimestamp is the created_at value for new rows.
func nowTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
