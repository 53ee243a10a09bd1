package db

import (
	"context"
	"database/sql"
	"fmt"
)

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(2)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS extraction_runs (
    id           TEXT PRIMARY KEY,
    job          JSONB NOT NULL DEFAULT '{}',
    policy       TEXT NOT NULL DEFAULT 'last',
    status       TEXT NOT NULL DEFAULT 'running',
    matches      INTEGER NOT NULL DEFAULT 0,
    images       JSONB NOT NULL DEFAULT '[]',
    failures     JSONB NOT NULL DEFAULT '[]',
    kept         JSONB NOT NULL DEFAULT '[]',
    audit        JSONB,
    error        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_status ON extraction_runs(status);
`
