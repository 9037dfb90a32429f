package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/auth"
	"github.com/tbasson/pigeon/internal/client"
	"github.com/tbasson/pigeon/internal/conversation"
	"github.com/tbasson/pigeon/internal/presence"
	"github.com/tbasson/pigeon/internal/roster"
	"github.com/tbasson/pigeon/internal/server"
)

var secret = []byte("integration-secret")

const waitFor = 3 * time.Second

func startServer(t *testing.T) *server.Server {
	t.Helper()

	srv := server.New(zap.NewNop(), "127.0.0.1:0", secret)
	go func() {
		_ = srv.Start()
	}()
	t.Cleanup(srv.Stop)

	time.Sleep(100 * time.Millisecond)
	require.NotEmpty(t, srv.Addr())
	return srv
}

// newSession builds a full client stack for email against srv, mirroring the
// wiring of the client binary.
func newSession(t *testing.T, srv *server.Server, email string) *client.Session {
	t.Helper()

	token, err := auth.GenerateToken(secret, email, time.Hour)
	require.NoError(t, err)

	log := zap.NewNop()
	tracker := presence.NewTracker()
	conversations := conversation.NewStore()
	target := fmt.Sprintf("ws://%s/ws", srv.Addr())
	manager := client.NewManager(log, nil, target, tracker, conversations)

	session := client.NewSession(
		log,
		client.NewMemoryStore(token),
		roster.New(log, "http://"+srv.Addr()),
		manager,
		tracker,
		conversations,
	)
	t.Cleanup(session.Deactivate)
	return session
}

func waitConnected(t *testing.T, session *client.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return session.ConnectionState() == client.StateConnected
	}, waitFor, 10*time.Millisecond)
}

func TestIntegration_TwoSessionsExchangeMessages(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	alice := newSession(t, srv, "alice@x.com")
	bob := newSession(t, srv, "bob@x.com")

	req.NoError(alice.Activate(context.Background()))
	waitConnected(t, alice)
	req.NoError(bob.Activate(context.Background()))
	waitConnected(t, bob)

	// Presence propagates both ways.
	require.Eventually(t, func() bool {
		return alice.Online("bob@x.com") && bob.Online("alice@x.com")
	}, waitFor, 10*time.Millisecond)

	// Alice messages bob; the echo is immediate, delivery follows.
	alice.Select("bob@x.com")
	req.NoError(alice.SendToActive("hello bob"))

	thread := alice.Thread("bob@x.com")
	req.Len(thread, 1)
	req.Equal(conversation.SelfSender, thread[0].Sender)
	req.Equal("hello bob", thread[0].Content)

	require.Eventually(t, func() bool {
		thread := bob.Thread("alice@x.com")
		return len(thread) == 1 && thread[0].Content == "hello bob"
	}, waitFor, 10*time.Millisecond)
	delivered := bob.Thread("alice@x.com")[0]
	req.Equal("alice@x.com", delivered.Sender)
	req.False(delivered.SentAt.IsZero())

	// Bob replies on the same thread.
	bob.Select("alice@x.com")
	req.NoError(bob.SendToActive("hi alice"))
	require.Eventually(t, func() bool {
		return len(alice.Thread("bob@x.com")) == 2
	}, waitFor, 10*time.Millisecond)
}

func TestIntegration_RosterSeedsCorrespondents(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	// Bob has connected before, so alice's roster knows him even after he
	// goes offline.
	bob := newSession(t, srv, "bob@x.com")
	req.NoError(bob.Activate(context.Background()))
	waitConnected(t, bob)
	bob.Deactivate()
	require.Eventually(t, func() bool {
		return srv.ClientCount() == 0
	}, waitFor, 10*time.Millisecond)

	alice := newSession(t, srv, "alice@x.com")
	req.NoError(alice.Activate(context.Background()))
	waitConnected(t, alice)

	require.Eventually(t, func() bool {
		users := alice.Users()
		return len(users) == 1 && users[0] == "bob@x.com"
	}, waitFor, 10*time.Millisecond)
	req.NoError(alice.RosterErr())
	req.False(alice.Online("bob@x.com"))
}

func TestIntegration_DisconnectFlipsPresence(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	alice := newSession(t, srv, "alice@x.com")
	bob := newSession(t, srv, "bob@x.com")
	req.NoError(alice.Activate(context.Background()))
	waitConnected(t, alice)
	req.NoError(bob.Activate(context.Background()))
	waitConnected(t, bob)

	require.Eventually(t, func() bool {
		return alice.Online("bob@x.com")
	}, waitFor, 10*time.Millisecond)

	bob.Deactivate()

	require.Eventually(t, func() bool {
		return !alice.Online("bob@x.com")
	}, waitFor, 10*time.Millisecond)
}

func TestIntegration_EchoSurvivesServerShutdown(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	alice := newSession(t, srv, "alice@x.com")
	req.NoError(alice.Activate(context.Background()))
	waitConnected(t, alice)

	srv.Stop()
	require.Eventually(t, func() bool {
		return alice.ConnectionState() == client.StateClosed
	}, waitFor, 10*time.Millisecond)

	// Sending after the connection died still records the local echo.
	alice.Select("bob@x.com")
	req.NoError(alice.SendToActive("into the void"))
	thread := alice.Thread("bob@x.com")
	req.Len(thread, 1)
	req.Equal("into the void", thread[0].Content)
}
