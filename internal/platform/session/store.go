package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a key is absent or its entry expired.
	ErrNotFound = errors.New("session: key not found")
	// ErrInvalidKey is returned for malformed keys.
	ErrInvalidKey = errors.New("session: invalid key")
	// ErrNotSerializable is returned when a value cannot be stored as JSON.
	ErrNotSerializable = errors.New("session: value is not JSON-serializable")
)

const maxKeyLen = 256

// Health summarises store state for the health endpoint. Computing it is
// O(1): both the entry map size and the capped audit trail length are
// bounded reads.
type Health struct {
	Entries      int  `json:"entries"`
	AuditEntries int  `json:"audit_entries"`
	OK           bool `json:"ok"`
}

// KV is the contract shared by the in-memory store and the Redis-backed
// store. Payloads are JSON documents; expired entries are unreachable.
type KV interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) Health
	Clear(ctx context.Context) error
}

type entry struct {
	payload  json.RawMessage
	storedAt time.Time
}

// Store is the in-memory TTL store. All mutations are atomic relative to
// concurrent reads and the expiration sweep: a read racing an expiration
// observes either the live entry or not-found, never a torn state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
	trail   *Trail
	logger  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a deterministic time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an in-memory TTL store auditing into trail.
func NewStore(ttl time.Duration, trail *Trail, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   time.Now,
		trail:   trail,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLen)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidKey)
		}
	}
	return nil
}

// Put stores value under key, overwriting any previous entry and resetting
// its TTL. Malformed keys and unserializable values are rejected with a
// typed error and audited as failed attempts.
func (s *Store) Put(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		s.trail.Record(ActionStore, key, false, err.Error())
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		s.trail.Record(ActionStore, key, false, "value not serializable")
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}

	s.mu.Lock()
	s.entries[key] = entry{payload: payload, storedAt: s.clock()}
	s.mu.Unlock()

	s.trail.Record(ActionStore, key, true, "")
	return nil
}

// Get returns the stored payload if the entry exists and its TTL has not
// elapsed. A stale entry is deleted transparently, audited as EXPIRE, and
// reported as not found. Get never fails for any key shape beyond the
// not-found sentinel.
func (s *Store) Get(_ context.Context, key string) (json.RawMessage, error) {
	now := s.clock()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && s.expired(e, now) {
		delete(s.entries, key)
		s.mu.Unlock()
		s.trail.Record(ActionExpire, key, true, "ttl elapsed")
		s.logger.Info().Str("key", key).Msg("session entry expired")
		return nil, ErrNotFound
	}
	s.mu.Unlock()

	if !ok {
		s.trail.Record(ActionRetrieve, key, false, "not found")
		return nil, ErrNotFound
	}

	s.trail.Record(ActionRetrieve, key, true, "")
	out := make(json.RawMessage, len(e.payload))
	copy(out, e.payload)
	return out, nil
}

// Delete removes key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	s.trail.Record(ActionDelete, key, ok, "")
	return nil
}

// HealthCheck reports entry and audit counts. It runs in bounded time
// regardless of historical audit volume because the trail is capped.
func (s *Store) HealthCheck(_ context.Context) Health {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return Health{Entries: n, AuditEntries: s.trail.Len(), OK: true}
}

// Clear wipes every entry. Safe to call on an empty store.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	s.mu.Unlock()

	s.trail.Record(ActionDelete, "*", true, fmt.Sprintf("cleared %d entries", n))
	return nil
}

// Sweep removes every expired entry, auditing one EXPIRE per removal, and
// returns the number removed.
func (s *Store) Sweep(_ context.Context) int {
	now := s.clock()

	s.mu.Lock()
	var expired []string
	for key, e := range s.entries {
		if s.expired(e, now) {
			expired = append(expired, key)
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	for _, key := range expired {
		s.trail.Record(ActionExpire, key, true, "ttl elapsed")
	}
	if len(expired) > 0 {
		s.logger.Info().Int("count", len(expired)).Msg("swept expired session entries")
	}
	return len(expired)
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Store) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && !now.Before(e.storedAt.Add(s.ttl))
}
