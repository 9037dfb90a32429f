package client

import "sync"

// MemoryStore is an in-process TokenStore for the terminal client and the
// tests. A real frontend owns the credential in its own storage and only
// needs to satisfy TokenStore.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates a store holding token; an empty token means
// unauthenticated.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Token implements TokenStore.
func (s *MemoryStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Clear implements TokenStore.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Set replaces the stored token.
func (s *MemoryStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
