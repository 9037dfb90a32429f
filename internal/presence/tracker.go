// Package presence tracks the online state of every known correspondent.
package presence

import (
	"sync"

	"github.com/samber/lo"
)

// Entry is one correspondent's presence.
type Entry struct {
	Identity string
	Online   bool
}

// Tracker maintains an identity -> online mapping, seeded by full snapshots
// and updated by single deltas. A snapshot replaces the whole mapping; a
// delta upserts one identity. Absent identities read as offline.
//
// Tracker is safe for concurrent use; the connection read loop writes while
// the UI reads.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]bool),
	}
}

// ApplySnapshot atomically replaces the whole mapping. Entries without an
// identity are skipped.
func (t *Tracker) ApplySnapshot(entries []Entry) {
	known := lo.Filter(entries, func(e Entry, _ int) bool {
		return e.Identity != ""
	})
	next := lo.SliceToMap(known, func(e Entry) (string, bool) {
		return e.Identity, e.Online
	})

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

// ApplyDelta upserts a single identity. A delta without an identity is a
// no-op.
func (t *Tracker) ApplyDelta(identity string, online bool) {
	if identity == "" {
		return
	}

	t.mu.Lock()
	t.online[identity] = online
	t.mu.Unlock()
}

// Online reports the last known state for identity; unknown identities are
// offline.
func (t *Tracker) Online(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[identity]
}

// Snapshot returns a copy of the current mapping.
func (t *Tracker) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]bool, len(t.online))
	for identity, online := range t.online {
		snapshot[identity] = online
	}
	return snapshot
}
