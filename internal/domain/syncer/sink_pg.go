package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
)

// PGSink persists daily sessions to the daily_session table. Saving a
// date that already exists replaces its records wholesale and bumps the
// version; the version never decreases.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink creates a Postgres-backed PersistenceSink.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Save upserts the record batch for dateKey.
func (s *PGSink) Save(ctx context.Context, dateKey string, records []schedule.DashboardRecord, actingUserID string) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("syncer: marshal records: %w", err)
	}

	const query = `
		INSERT INTO daily_session (date_key, records, owner_id, version, last_modified)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (date_key) DO UPDATE SET
			records       = EXCLUDED.records,
			owner_id      = EXCLUDED.owner_id,
			version       = daily_session.version + 1,
			last_modified = now()`

	if _, err := s.pool.Exec(ctx, query, dateKey, payload, actingUserID); err != nil {
		return fmt.Errorf("syncer: save session %s: %w", dateKey, err)
	}
	return nil
}

// Delete removes the persisted session for dateKey.
func (s *PGSink) Delete(ctx context.Context, dateKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM daily_session WHERE date_key = $1`, dateKey); err != nil {
		return fmt.Errorf("syncer: delete session %s: %w", dateKey, err)
	}
	return nil
}

// Load returns the persisted session for dateKey, or nil when none exists.
func (s *PGSink) Load(ctx context.Context, dateKey string) (*schedule.DailySession, error) {
	const query = `
		SELECT records, owner_id, version, last_modified
		FROM daily_session
		WHERE date_key = $1`

	var (
		payload      []byte
		ownerID      string
		version      int
		lastModified time.Time
	)
	err := s.pool.QueryRow(ctx, query, dateKey).Scan(&payload, &ownerID, &version, &lastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncer: load session %s: %w", dateKey, err)
	}

	var records []schedule.DashboardRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("syncer: unmarshal session %s: %w", dateKey, err)
	}
	return &schedule.DailySession{
		DateKey:      dateKey,
		Records:      records,
		OwnerID:      ownerID,
		Version:      version,
		LastModified: lastModified,
	}, nil
}
