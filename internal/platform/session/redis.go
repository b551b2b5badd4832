package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisStore is a Redis-backed KV for deployments that keep session state
// out of process. Expiration is delegated to Redis TTLs, so a missing key
// cannot be distinguished from an expired one; misses are audited as failed
// retrievals rather than fabricating EXPIRE transitions the store never
// observed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	trail  *Trail
	logger zerolog.Logger
}

// NewRedisStore creates a RedisStore from a redis:// URL.
func NewRedisStore(url string, ttl time.Duration, trail *Trail, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		ttl:    ttl,
		prefix: "clinicdash:session:",
		trail:  trail,
		logger: logger,
	}, nil
}

// recordMiss audits a lookup that found nothing live to return. Redis
// cannot tell plain absence from TTL expiry, so the entry is a failed
// retrieval, never a synthesized EXPIRE.
func recordMiss(trail *Trail, key string) {
	trail.Record(ActionRetrieve, key, false, "not found or expired")
}

// Put stores value under key with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		s.trail.Record(ActionStore, key, false, err.Error())
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		s.trail.Record(ActionStore, key, false, "value not serializable")
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		s.trail.Record(ActionStore, key, false, "redis write failed")
		return fmt.Errorf("session: redis set: %w", err)
	}
	s.trail.Record(ActionStore, key, true, "")
	return nil
}

// Get returns the payload for key, or ErrNotFound when absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		recordMiss(s.trail, key)
		return nil, ErrNotFound
	}
	if err != nil {
		s.trail.Record(ActionRetrieve, key, false, "redis read failed")
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	s.trail.Record(ActionRetrieve, key, true, "")
	return payload, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		s.trail.Record(ActionDelete, key, false, "redis delete failed")
		return fmt.Errorf("session: redis del: %w", err)
	}
	s.trail.Record(ActionDelete, key, n > 0, "")
	return nil
}

// scanBatch is the COUNT hint for prefix scans.
const scanBatch = 100

// HealthCheck pings Redis and counts keys under the session prefix. The
// count uses SCAN so the check stays incremental on a shared keyspace.
func (s *RedisStore) HealthCheck(ctx context.Context) Health {
	h := Health{AuditEntries: s.trail.Len()}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error().Err(err).Msg("redis health check failed")
		return h
	}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		h.Entries++
	}
	if err := iter.Err(); err != nil {
		s.logger.Error().Err(err).Msg("redis key scan failed")
		return Health{AuditEntries: h.AuditEntries}
	}
	h.OK = true
	return h
}

// Clear removes every key under the session prefix, scanning and deleting
// in batches rather than blocking Redis on one KEYS sweep.
func (s *RedisStore) Clear(ctx context.Context) error {
	cleared := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("session: redis del: %w", err)
		}
		cleared += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("session: redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	s.trail.Record(ActionDelete, "*", true, fmt.Sprintf("cleared %d entries", cleared))
	return nil
}
