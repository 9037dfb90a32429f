// Package conversation keeps the per-correspondent message log for one
// session. Threads are append-only and live in memory; nothing survives the
// session.
package conversation

import (
	"sync"
	"time"
)

// SelfSender marks messages authored locally. Every other sender is a
// correspondent identity.
const SelfSender = "self"

// Message is one entry of a thread. Immutable once appended. SentAt is the
// zero time when the server delivered no timestamp.
type Message struct {
	Sender  string
	Content string
	SentAt  time.Time
}

// Store maps a correspondent identity to its ordered thread. Order is
// insertion order: messages are recorded as delivered or sent, never
// re-sorted, never deduplicated, never removed.
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string][]Message),
	}
}

// Append adds msg to the thread for identity, creating the thread on first
// use.
func (s *Store) Append(identity string, msg Message) {
	s.mu.Lock()
	s.threads[identity] = append(s.threads[identity], msg)
	s.mu.Unlock()
}

// Thread returns a copy of the thread for identity, empty if none exists.
func (s *Store) Thread(identity string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread := s.threads[identity]
	out := make([]Message, len(thread))
	copy(out, thread)
	return out
}

// Len returns the current length of the thread for identity.
func (s *Store) Len(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[identity])
}
