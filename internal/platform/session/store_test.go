package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2023, 1, 15, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration) (*Store, *Trail, *fakeClock) {
	clock := newFakeClock()
	trail := NewTrail(0)
	store := NewStore(ttl, trail, zerolog.Nop(), WithClock(clock.Now))
	return store, trail, clock
}

func countActions(trail *Trail, action Action, key string) int {
	n := 0
	for _, e := range trail.Entries() {
		if e.Action == action && e.Key == key {
			n++
		}
	}
	return n
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store, trail, _ := newTestStore(time.Hour)
	ctx := context.Background()

	value := map[string]any{"name": "John Doe", "status": "scheduled"}
	if err := store.Put(ctx, "dashboard:2023-01-15", value); err != nil {
		t.Fatalf("put: %v", err)
	}

	payload, err := store.Get(ctx, "dashboard:2023-01-15")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got["name"] != "John Doe" {
		t.Errorf("name = %v, want John Doe", got["name"])
	}

	if n := countActions(trail, ActionStore, "dashboard:2023-01-15"); n != 1 {
		t.Errorf("STORE audit entries = %d, want 1", n)
	}
	if n := countActions(trail, ActionRetrieve, "dashboard:2023-01-15"); n != 1 {
		t.Errorf("RETRIEVE audit entries = %d, want 1", n)
	}
}

func TestStorePutOverwrites(t *testing.T) {
	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	if err := store.Put(ctx, "k", "first"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "k", "second"); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(payload) != `"second"` {
		t.Errorf("payload = %s, want %q", payload, `"second"`)
	}
}

func TestStoreExpiry(t *testing.T) {
	store, trail, clock := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(31 * time.Minute)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after ttl = %v, want ErrNotFound", err)
	}

	// Exactly one EXPIRE entry, and no RETRIEVE entry for the stale read.
	if n := countActions(trail, ActionExpire, "k"); n != 1 {
		t.Errorf("EXPIRE audit entries = %d, want 1", n)
	}
	if n := countActions(trail, ActionRetrieve, "k"); n != 0 {
		t.Errorf("RETRIEVE audit entries = %d, want 0", n)
	}

	// A second read finds nothing and does not expire again.
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second get = %v, want ErrNotFound", err)
	}
	if n := countActions(trail, ActionExpire, "k"); n != 1 {
		t.Errorf("EXPIRE audit entries after second read = %d, want 1", n)
	}
}

func TestStoreGetFreshWithinTTL(t *testing.T) {
	store, _, clock := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(29 * time.Minute)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Errorf("get within ttl: %v", err)
	}
}

func TestStoreInvalidKeys(t *testing.T) {
	store, trail, _ := newTestStore(time.Hour)
	ctx := context.Background()

	cases := map[string]string{
		"empty":        "",
		"too long":     strings.Repeat("k", maxKeyLen+1),
		"control char": "key\x00name",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			err := store.Put(ctx, key, "v")
			if !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("put(%q) = %v, want ErrInvalidKey", key, err)
			}
		})
	}

	// Each rejection is audited as a failed attempt.
	failed := 0
	for _, e := range trail.Entries() {
		if e.Action == ActionStore && !e.Success {
			failed++
		}
	}
	if failed != len(cases) {
		t.Errorf("failed STORE audit entries = %d, want %d", failed, len(cases))
	}
}

func TestStoreUnserializableValue(t *testing.T) {
	store, trail, _ := newTestStore(time.Hour)
	ctx := context.Background()

	err := store.Put(ctx, "k", make(chan int))
	if !errors.Is(err, ErrNotSerializable) {
		t.Fatalf("put(chan) = %v, want ErrNotSerializable", err)
	}
	if n := countActions(trail, ActionStore, "k"); n != 1 {
		t.Errorf("STORE audit entries = %d, want 1 failed attempt", n)
	}
	entries := trail.Entries()
	if entries[len(entries)-1].Success {
		t.Error("rejected store should be audited as a failed attempt")
	}
}

func TestStoreDelete(t *testing.T) {
	store, trail, _ := newTestStore(time.Hour)
	ctx := context.Background()

	if err := store.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if n := countActions(trail, ActionDelete, "k"); n != 1 {
		t.Errorf("DELETE audit entries = %d, want 1", n)
	}
}

func TestStoreClearOnEmptyStore(t *testing.T) {
	store, _, _ := newTestStore(time.Hour)
	if err := store.Clear(context.Background()); err != nil {
		t.Errorf("clear on empty store: %v", err)
	}
}

func TestStoreHealthCheck(t *testing.T) {
	store, _, _ := newTestStore(time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, fmt.Sprintf("k%d", i), i); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	h := store.HealthCheck(ctx)
	if !h.OK {
		t.Error("health check should pass")
	}
	if h.Entries != 3 {
		t.Errorf("entries = %d, want 3", h.Entries)
	}
	if h.AuditEntries != 3 {
		t.Errorf("audit entries = %d, want 3", h.AuditEntries)
	}
}

func TestStoreSweep(t *testing.T) {
	store, trail, clock := newTestStore(10 * time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := store.Put(ctx, fmt.Sprintf("old%d", i), i); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	clock.Advance(11 * time.Minute)
	if err := store.Put(ctx, "fresh", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}

	if n := store.Sweep(ctx); n != 4 {
		t.Errorf("swept = %d, want 4", n)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh entry should survive sweep: %v", err)
	}

	expires := 0
	for _, e := range trail.Entries() {
		if e.Action == ActionExpire {
			expires++
		}
	}
	if expires != 4 {
		t.Errorf("EXPIRE audit entries = %d, want 4", expires)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store, _, clock := newTestStore(5 * time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", g%4)
			for i := 0; i < 100; i++ {
				switch i % 4 {
				case 0:
					_ = store.Put(ctx, key, i)
				case 1:
					_, _ = store.Get(ctx, key)
				case 2:
					_ = store.Delete(ctx, key)
				case 3:
					store.Sweep(ctx)
				}
			}
		}(g)
	}
	clock.Advance(6 * time.Minute)
	wg.Wait()

	h := store.HealthCheck(ctx)
	if !h.OK {
		t.Error("store unhealthy after concurrent access")
	}
}
