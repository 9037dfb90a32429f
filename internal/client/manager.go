// Package client implements the chat client engine: the connection manager
// owning the single live websocket of a session, and the session controller
// composing it with the presence tracker, the conversation store, and the
// external collaborators (credential store, roster endpoint).
package client

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/conversation"
	"github.com/tbasson/pigeon/internal/presence"
	"github.com/tbasson/pigeon/pkg/protocol"
)

// State is the connection lifecycle position. The progression is strictly
// Idle -> Connecting -> Connected -> Closed. Closed is terminal: there is no
// reconnect, a new Manager must be created to connect again.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name for status display.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrAlreadyOpened is returned when Open is called on a used manager.
var ErrAlreadyOpened = errors.New("connection already opened")

const eventBuffer = 16

// Manager owns exactly one live connection. It dials the server with the
// bearer token as a query credential, requests a presence snapshot as soon
// as the transport acknowledges the open, and runs a single read loop that
// applies inbound events to the tracker and the store in delivery order.
//
// Send is best-effort and at-most-once: frames are written only while
// Connected, silently dropped otherwise.
type Manager struct {
	log           *zap.Logger
	dial          Dialer
	target        string
	presence      *presence.Tracker
	conversations *conversation.Store

	mu      sync.RWMutex
	state   State
	conn    Conn
	lastErr error

	events     chan protocol.Event
	eventsOnce sync.Once
	wg         sync.WaitGroup
}

// NewManager creates an Idle manager for the given base websocket URL.
// A nil dial falls back to DialWebSocket.
func NewManager(log *zap.Logger, dial Dialer, target string, tracker *presence.Tracker, store *conversation.Store) *Manager {
	if dial == nil {
		dial = DialWebSocket
	}
	return &Manager{
		log:           log,
		dial:          dial,
		target:        target,
		presence:      tracker,
		conversations: store,
		events:        make(chan protocol.Event, eventBuffer),
	}
}

// Open dials the server with token appended as the query credential. On
// success it emits the roster-refresh intent and starts the read loop. Any
// failure leaves the manager Closed with the error recorded.
func (m *Manager) Open(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyOpened
	}
	m.state = StateConnecting
	m.mu.Unlock()

	target, err := authTarget(m.target, token)
	if err != nil {
		m.closeWith(err)
		return err
	}

	conn, err := m.dial(ctx, target)
	if err != nil {
		m.closeWith(err)
		return err
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Closed during the dial; release the late handle.
		m.mu.Unlock()
		_ = conn.Close()
		return errors.New("closed while connecting")
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info("connected", zap.String("target", m.target))

	if frame, err := protocol.EncodeListUsers(); err == nil {
		m.Send(frame)
	}

	m.wg.Add(1)
	go m.readLoop(conn)

	return nil
}

// Send writes frame only while Connected; otherwise the call is a silent
// no-op. A write failure closes the connection.
func (m *Manager) Send(frame []byte) {
	m.mu.RLock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.RUnlock()

	if !connected || conn == nil {
		m.log.Debug("send dropped, not connected")
		return
	}

	if err := conn.WriteText(frame); err != nil {
		m.closeWith(err)
	}
}

// Close tears the connection down and waits for the read loop to stop.
// Idempotent; used by every exit path (teardown, logout, error).
func (m *Manager) Close() {
	m.closeWith(nil)
	m.wg.Wait()
	m.finishEvents()
}

// State returns the current lifecycle position.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the transport error that closed the connection, nil after a
// clean close. Consumed by the UI as a status indicator.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Events exposes a bounded feed of the decoded inbound events, so a UI can
// react without polling the stores. The feed is lossy under a slow consumer;
// the tracker and the store stay authoritative. The channel is closed once
// the connection is down, so ranging consumers unwind.
func (m *Manager) Events() <-chan protocol.Event {
	return m.events
}

// finishEvents closes the feed. Only the read loop sends on it, so closing
// happens after the loop has exited (or when it never started).
func (m *Manager) finishEvents() {
	m.eventsOnce.Do(func() { close(m.events) })
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()
	defer m.finishEvents()

	for {
		raw, err := conn.ReadText()
		if err != nil {
			m.closeWith(err)
			return
		}
		m.handleFrame(raw)
	}
}

// handleFrame decodes and applies one inbound frame. Ignored frames change
// nothing.
func (m *Manager) handleFrame(raw []byte) {
	event, ok := protocol.DecodeServerFrame(raw)
	if !ok {
		m.log.Debug("dropping unrecognized frame", zap.ByteString("raw", raw))
		return
	}

	switch e := event.(type) {
	case protocol.MessageEvent:
		m.conversations.Append(e.From, conversation.Message{
			Sender:  e.From,
			Content: e.Content,
			SentAt:  e.SentAt,
		})
	case protocol.UserListEvent:
		m.presence.ApplySnapshot(lo.Map(e.Users, func(u protocol.UserStatus, _ int) presence.Entry {
			return presence.Entry{Identity: u.Email, Online: u.Online}
		}))
	case protocol.UserStatusEvent:
		m.presence.ApplyDelta(e.Email, e.Online)
	}

	select {
	case m.events <- event:
	default:
	}
}

// closeWith moves the manager to Closed, recording err when the transition
// is caused by a transport failure. Later calls are no-ops, so an explicit
// Close keeps lastErr nil even when the read loop fails right after.
func (m *Manager) closeWith(err error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.lastErr = err
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if err != nil {
		m.log.Warn("connection lost", zap.Error(err))
	}
}

// authTarget appends the bearer token to the base websocket URL as the
// token query parameter.
func authTarget(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
