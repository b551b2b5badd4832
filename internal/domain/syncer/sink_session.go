package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinicdash/clinicdash/internal/domain/schedule"
	"github.com/clinicdash/clinicdash/internal/platform/session"
)

const sessionKeyPrefix = "dashboard:"

// SessionSink persists daily sessions into the secure session store. It is
// the default sink when no database is configured: the dashboard then works
// off the rolling TTL window the store provides.
type SessionSink struct {
	kv    session.KV
	clock func() time.Time
}

// NewSessionSink creates a store-backed PersistenceSink.
func NewSessionSink(kv session.KV) *SessionSink {
	return &SessionSink{kv: kv, clock: time.Now}
}

// Save overwrites the session for dateKey, carrying the version forward
// from any previous entry for that date.
func (s *SessionSink) Save(ctx context.Context, dateKey string, records []schedule.DashboardRecord, actingUserID string) error {
	version := 1
	if prev, err := s.Load(ctx, dateKey); err == nil && prev != nil {
		version = prev.Version + 1
	}

	sess := schedule.DailySession{
		DateKey:      dateKey,
		Records:      records,
		LastModified: s.clock().UTC(),
		OwnerID:      actingUserID,
		Version:      version,
	}
	if err := s.kv.Put(ctx, sessionKeyPrefix+dateKey, sess); err != nil {
		return fmt.Errorf("syncer: store session %s: %w", dateKey, err)
	}
	return nil
}

// Load returns the stored session for dateKey, or nil when absent or
// expired.
func (s *SessionSink) Load(ctx context.Context, dateKey string) (*schedule.DailySession, error) {
	payload, err := s.kv.Get(ctx, sessionKeyPrefix+dateKey)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess schedule.DailySession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("syncer: decode session %s: %w", dateKey, err)
	}
	return &sess, nil
}

// Delete removes the stored session for dateKey.
func (s *SessionSink) Delete(ctx context.Context, dateKey string) error {
	return s.kv.Delete(ctx, sessionKeyPrefix+dateKey)
}
