package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the invoices table if needed. Keeping the migration
// in code lets docker-compose bootstrap the full stack without a separate
// migration step. The composite primary key serves the "all of my
// invoices" access pattern; the status index serves the pipeline's and
// the sweeper's "all records in state X" pattern.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS invoices (
	id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	blob_key TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	extracted_data JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	PRIMARY KEY (owner_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_id ON invoices(id);
CREATE INDEX IF NOT EXISTS idx_invoices_owner_created ON invoices(owner_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_invoices_status_created ON invoices(status, created_at DESC);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
