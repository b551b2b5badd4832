// Package session provides the TTL-limited secure store for dashboard
// session payloads, together with the append-only audit trail that every
// store, retrieval, expiration, and interchange operation writes to.
package session

import (
	"sync"
	"time"
)

// Action identifies what an audit entry records.
type Action string

const (
	ActionStore    Action = "STORE"
	ActionRetrieve Action = "RETRIEVE"
	ActionDelete   Action = "DELETE"
	ActionExpire   Action = "EXPIRE"
	ActionExport   Action = "EXPORT"
	ActionImport   Action = "IMPORT"
)

// Entry is one audit trail record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Key       string    `json:"key"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// DefaultTrailCap bounds the audit trail so health checks stay O(1) no
// matter how long the process has been running.
const DefaultTrailCap = 1000

// Trail is an append-only, capacity-bounded audit log. When the cap is
// reached the oldest entries are discarded. Safe for concurrent use.
type Trail struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
	clock   func() time.Time
}

// NewTrail creates a Trail holding at most capEntries records. A
// non-positive cap falls back to DefaultTrailCap.
func NewTrail(capEntries int) *Trail {
	if capEntries <= 0 {
		capEntries = DefaultTrailCap
	}
	return &Trail{cap: capEntries, clock: time.Now}
}

// Record appends one entry, evicting the oldest when over capacity.
func (t *Trail) Record(action Action, key string, success bool, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		Timestamp: t.clock(),
		Action:    action,
		Key:       key,
		Success:   success,
		Detail:    detail,
	})
	if len(t.entries) > t.cap {
		t.entries = t.entries[len(t.entries)-t.cap:]
	}
}

// Entries returns a copy of the current trail, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
