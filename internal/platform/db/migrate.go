package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS daily_session (
    date_key      DATE PRIMARY KEY,
    records       JSONB NOT NULL DEFAULT '[]'::jsonb,
    last_modified TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    owner_id      TEXT NOT NULL DEFAULT 'system',
    version       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_daily_session_last_modified
    ON daily_session (last_modified);
`

// EnsureSchema creates the dashboard tables if they do not exist. The
// statements are idempotent so it runs on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
