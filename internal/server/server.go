// Package server implements the chat hub: a websocket endpoint speaking the
// JSON frame protocol, plus the HTTP roster endpoint, both authenticated
// with the same bearer token. It backs the dev binary and the integration
// tests.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/auth"
	"github.com/tbasson/pigeon/pkg/protocol"
)

// Close codes mirroring the original auth handshake contract.
const (
	closeMissingToken = 4001
	closeInvalidToken = 4002
)

// Server serves /ws (chat hub) and /chat/users (roster) on one listener.
type Server struct {
	log      *zap.Logger
	address  string
	secret   []byte
	hub      *Hub
	listener net.Listener
	httpSrv  *http.Server
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server for address, validating tokens against secret.
func New(log *zap.Logger, address string, secret []byte) *Server {
	return &Server{
		log:     log,
		address: address,
		secret:  secret,
		hub:     NewHub(),
		quit:    make(chan struct{}),
	}
}

// Start listens and serves until Stop is called; it blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/chat/users", s.handleUsers)
	s.httpSrv = &http.Server{Handler: mux}

	s.log.Info("chat hub started", zap.String("address", listener.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("serve failed: %w", err)
	case <-s.quit:
		return nil
	}
}

// Stop closes the listener and every client connection, then waits for the
// per-client goroutines to finish. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		if s.httpSrv != nil {
			_ = s.httpSrv.Close()
		}
		// Hijacked websocket connections are not tracked by the http.Server.
		s.hub.CloseAll()
		s.wg.Wait()
	})
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected chat clients.
func (s *Server) ClientCount() int {
	return s.hub.Count()
}

// handleUsers serves the roster: every identity the hub has seen, minus the
// caller, with bearer authentication.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	email, ok := s.bearerIdentity(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	type userEntry struct {
		Email string `json:"email"`
	}
	users := lo.Map(s.hub.Known(email), func(email string, _ int) userEntry {
		return userEntry{Email: email}
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]userEntry{"users": users})
}

func (s *Server) bearerIdentity(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	email, err := auth.ValidateToken(s.secret, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return "", false
	}
	return email, true
}

// handleWebSocket upgrades, authenticates the query credential, and hands
// the connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	if token == "" {
		s.reject(conn, closeMissingToken, "Missing auth token.")
		return
	}
	email, err := auth.ValidateToken(s.secret, token)
	if err != nil {
		s.reject(conn, closeInvalidToken, "Invalid auth token.")
		return
	}

	client := &hubClient{
		id:       uuid.NewString(),
		email:    email,
		conn:     conn,
		outgoing: make(chan []byte, outgoingBuffer),
	}

	if previous := s.hub.Register(client); previous != nil {
		// The new connection wins; dropping the old transport lets its
		// reader unwind through the normal teardown path.
		_ = previous.conn.Close()
	}
	s.log.Info("client connected", zap.String("conn", client.id), zap.String("email", email))

	s.broadcastStatus(email, true)
	if frame, err := protocol.EncodeUserList(s.hub.Online()); err == nil {
		client.enqueue(frame)
	}

	s.wg.Add(2)
	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) reject(conn net.Conn, code int, reason string) {
	if frame, err := protocol.EncodeError(reason); err == nil {
		_ = wsutil.WriteServerText(conn, frame)
	}
	body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(body))
	_ = conn.Close()
}

// readPump consumes client frames until the transport fails or the client
// leaves, then tears the registration down.
func (s *Server) readPump(client *hubClient) {
	defer s.wg.Done()
	defer func() {
		current := s.hub.Unregister(client)
		close(client.outgoing)
		_ = client.conn.Close()
		if current {
			s.broadcastStatus(client.email, false)
			s.log.Info("client disconnected", zap.String("conn", client.id), zap.String("email", client.email))
		}
	}()

	for {
		data, err := wsutil.ReadClientText(client.conn)
		if err != nil {
			return
		}

		frame, ok := protocol.DecodeClientFrame(data)
		if !ok {
			if reply, err := protocol.EncodeError("Unsupported message type."); err == nil {
				client.enqueue(reply)
			}
			continue
		}

		switch f := frame.(type) {
		case protocol.ListUsersFrame:
			if reply, err := protocol.EncodeUserList(s.hub.Online()); err == nil {
				client.enqueue(reply)
			}
		case protocol.MessageFrame:
			s.deliver(client, f)
		}
	}
}

// deliver routes a chat message to its recipient, stamping sender and time.
// An offline recipient loses the message; there is no queueing.
func (s *Server) deliver(client *hubClient, f protocol.MessageFrame) {
	content := strings.TrimSpace(f.Content)
	if content == "" {
		if reply, err := protocol.EncodeError("Message cannot be empty."); err == nil {
			client.enqueue(reply)
		}
		return
	}

	out, err := protocol.EncodeServerMessage(client.email, f.To, content, time.Now())
	if err != nil {
		return
	}
	if !s.hub.SendTo(f.To, out) {
		s.log.Debug("recipient unavailable", zap.String("to", f.To))
	}
}

func (s *Server) writePump(client *hubClient) {
	defer s.wg.Done()

	for data := range client.outgoing {
		if err := wsutil.WriteServerText(client.conn, data); err != nil {
			s.log.Debug("write failed", zap.String("conn", client.id), zap.Error(err))
			return
		}
	}
}

func (s *Server) broadcastStatus(email string, online bool) {
	if frame, err := protocol.EncodeUserStatus(email, online); err == nil {
		s.hub.Broadcast(frame)
	}
}
