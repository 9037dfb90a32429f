package server

import (
	"net"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/tbasson/pigeon/pkg/protocol"
)

const outgoingBuffer = 16

// hubClient is one authenticated connection. Frames queued on outgoing are
// drained by the client's writer goroutine.
type hubClient struct {
	id       string
	email    string
	conn     net.Conn
	outgoing chan []byte
}

// enqueue is non-blocking: a client that cannot keep up loses frames
// rather than stalling the hub.
func (c *hubClient) enqueue(frame []byte) bool {
	select {
	case c.outgoing <- frame:
		return true
	default:
		return false
	}
}

// Hub tracks connected clients by identity. A second connection for the
// same identity supersedes the first. The hub also remembers every identity
// it has ever seen so the roster endpoint can list offline users.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	seen    map[string]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
		seen:    make(map[string]struct{}),
	}
}

// Register adds client and returns the superseded connection for the same
// identity, nil if there was none.
func (h *Hub) Register(client *hubClient) *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.clients[client.email]
	h.clients[client.email] = client
	h.seen[client.email] = struct{}{}
	return previous
}

// Unregister removes client and reports whether it was still the current
// connection for its identity. A superseded connection returns false so its
// teardown does not broadcast a spurious offline status.
func (h *Hub) Unregister(client *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.email] != client {
		return false
	}
	delete(h.clients, client.email)
	return true
}

// Online returns the presence snapshot of currently connected identities.
func (h *Hub) Online() []protocol.UserStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := lo.Map(lo.Keys(h.clients), func(email string, _ int) protocol.UserStatus {
		return protocol.UserStatus{Email: email, Online: true}
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users
}

// Known returns every identity the hub has seen, except the caller's own.
func (h *Hub) Known(except string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	known := lo.Filter(lo.Keys(h.seen), func(email string, _ int) bool {
		return email != except
	})
	sort.Strings(known)
	return known
}

// SendTo queues frame for one identity; false when the identity is not
// connected or its queue is full. The lock is held through the enqueue:
// a disconnecting recipient closes its outgoing channel only after
// Unregister, which needs the write lock, so the enqueue cannot hit a
// closed channel.
func (h *Hub) SendTo(email string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client := h.clients[email]
	if client == nil {
		return false
	}
	return client.enqueue(frame)
}

// Broadcast queues frame for every connected client.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.enqueue(frame)
	}
}

// CloseAll closes every client transport; the readers unwind through their
// normal teardown. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		_ = client.conn.Close()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
