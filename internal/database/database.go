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

// EnsureSchema creates the pipeline tables if needed. Keeping the migration
// in code lets docker-compose bootstrap a working stack.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS candidates (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL,
	phone TEXT
);
CREATE TABLE IF NOT EXISTS cv_history (
	id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	file_name TEXT NOT NULL,
	stored_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	extracted_text TEXT,
	sync_status TEXT NOT NULL,
	sync_date TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cv_history_candidate ON cv_history(candidate_id, uploaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_cv_history_status ON cv_history(sync_status);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
