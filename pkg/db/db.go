// Package db persists challenge accounts, rules, metrics history and
// violations. SQLite is the default backend; Postgres is available for shared
// deployments.
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver

	"challenge-core/internal/challenge"
	"challenge-core/internal/monitor"
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path. ":memory:"
// opens a private in-memory database.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create db directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	return &Database{DB: db}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Migrate applies the SQLite schema.
func (d *Database) Migrate(context.Context) error {
	return ApplyMigrations(d)
}

// Store is the full persistence surface shared by both backends.
type Store interface {
	monitor.Store
	ListMetrics(ctx context.Context, accountID string, limit int) ([]challenge.MetricsRecord, error)
	ListViolations(ctx context.Context, accountID string, limit int) ([]challenge.Violation, error)
	UpsertChallenge(ctx context.Context, r challenge.Rules) error
	UpsertAccount(ctx context.Context, a challenge.Account) error
	Seed(ctx context.Context, c *Catalog) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*Postgres)(nil)
)

// Open returns the backend selected by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, path, databaseURL string) (Store, error) {
	switch driver {
	case "", "sqlite":
		d, err := New(path)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "postgres":
		if databaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		p, err := OpenPostgres(ctx, databaseURL, DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Errorf("unknown database driver %q", driver)
	}
}
