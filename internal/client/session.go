package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/conversation"
	"github.com/tbasson/pigeon/internal/presence"
	"github.com/tbasson/pigeon/pkg/protocol"
)

// TokenStore is the external credential store. The session only borrows the
// token; issuing and persisting it happen elsewhere.
type TokenStore interface {
	// Token returns the bearer token, false when none is stored.
	Token() (string, bool)

	// Clear discards the stored credential (logout).
	Clear()
}

// RosterFetcher is the external HTTP collaborator seeding the correspondent
// list.
type RosterFetcher interface {
	Users(ctx context.Context, token string) ([]string, error)
}

var (
	// ErrUnauthenticated is reported when activation finds no token. No
	// connection attempt is made; redirecting is the caller's business.
	ErrUnauthenticated = errors.New("no access token")

	// ErrNoActivePeer is returned by SendToActive without a selection.
	ErrNoActivePeer = errors.New("no correspondent selected")

	// ErrBlankMessage is returned by SendToActive for whitespace-only input.
	ErrBlankMessage = errors.New("message is blank")
)

// Session is the composition root of one chat session. It owns the presence
// tracker, the conversation store, and the connection manager, and talks to
// the external credential store and roster endpoint. Destroying the session
// discards all of it; nothing is persisted.
type Session struct {
	log           *zap.Logger
	store         TokenStore
	roster        RosterFetcher
	manager       *Manager
	presence      *presence.Tracker
	conversations *conversation.Store

	mu        sync.RWMutex
	active    string
	users     []string
	rosterErr error
}

// NewSession wires a session from its collaborators.
func NewSession(log *zap.Logger, store TokenStore, roster RosterFetcher, manager *Manager, tracker *presence.Tracker, conversations *conversation.Store) *Session {
	return &Session{
		log:           log,
		store:         store,
		roster:        roster,
		manager:       manager,
		presence:      tracker,
		conversations: conversations,
	}
}

// Activate gates on the credential, then starts the roster fetch and the
// connection open as two independent paths. They race; neither waits for
// the other, and neither failure blocks the other.
func (s *Session) Activate(ctx context.Context) error {
	token, ok := s.store.Token()
	if !ok || token == "" {
		return ErrUnauthenticated
	}

	go s.fetchRoster(ctx, token)
	go func() {
		if err := s.manager.Open(ctx, token); err != nil {
			s.log.Warn("connection attempt failed", zap.Error(err))
		}
	}()

	return nil
}

// Select makes identity the active correspondent for SendToActive.
// Selection is owned by the UI; the session just records it.
func (s *Session) Select(identity string) {
	s.mu.Lock()
	s.active = identity
	s.mu.Unlock()
}

// Active returns the currently selected correspondent, empty when none.
func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SendToActive sends trimmed content to the selected correspondent and
// unconditionally records the optimistic local echo, whether or not the
// frame reached the wire.
func (s *Session) SendToActive(content string) error {
	content = strings.TrimSpace(content)

	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	if active == "" {
		return ErrNoActivePeer
	}
	if content == "" {
		return ErrBlankMessage
	}

	frame, err := protocol.EncodeMessage(active, content)
	if err != nil {
		return err
	}

	s.manager.Send(frame)
	s.conversations.Append(active, conversation.Message{
		Sender:  conversation.SelfSender,
		Content: content,
		SentAt:  time.Now(),
	})

	return nil
}

// Thread returns the display thread for identity.
func (s *Session) Thread(identity string) []conversation.Message {
	return s.conversations.Thread(identity)
}

// Online reports the last known presence for identity.
func (s *Session) Online(identity string) bool {
	return s.presence.Online(identity)
}

// Users returns the roster as last fetched, nil before the fetch lands.
func (s *Session) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.users))
	copy(out, s.users)
	return out
}

// RosterErr returns the roster fetch failure for display, nil on success or
// before completion.
func (s *Session) RosterErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterErr
}

// ConnectionState exposes the manager's lifecycle position for status
// display.
func (s *Session) ConnectionState() State {
	return s.manager.State()
}

// ConnectionErr exposes the transport error that closed the connection.
func (s *Session) ConnectionErr() error {
	return s.manager.Err()
}

// Events exposes the manager's inbound event feed for a reactive UI.
func (s *Session) Events() <-chan protocol.Event {
	return s.manager.Events()
}

// Deactivate closes the connection. The session instance is discarded by
// the caller afterwards; the credential is left untouched.
func (s *Session) Deactivate() {
	s.manager.Close()
}

// Logout clears the external credential and deactivates.
func (s *Session) Logout() {
	s.store.Clear()
	s.Deactivate()
}

func (s *Session) fetchRoster(ctx context.Context, token string) {
	users, err := s.roster.Users(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Warn("roster fetch failed", zap.Error(err))
		s.rosterErr = err
		return
	}
	s.users = users
	s.rosterErr = nil
}
