package client

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a single bidirectional text-frame connection to the server.
type Conn interface {
	// ReadText blocks until the next text frame arrives.
	ReadText() ([]byte, error)

	// WriteText sends one text frame. Safe for concurrent use.
	WriteText(data []byte) error

	// Close releases the underlying transport.
	Close() error
}

// Dialer opens a Conn against a target URL. The manager uses DialWebSocket
// by default; tests substitute an in-memory transport.
type Dialer func(ctx context.Context, target string) (Conn, error)

// DialWebSocket opens a websocket connection using gobwas/ws.
func DialWebSocket(ctx context.Context, target string) (Conn, error) {
	conn, br, _, err := ws.Dial(ctx, target)
	if err != nil {
		return nil, err
	}

	// The dialer may have buffered frames the server pushed right after the
	// handshake (the hub sends user_list immediately); keep reading through
	// the same reader so nothing is lost.
	var r io.Reader = conn
	if br != nil {
		r = br
	}

	return &wsConn{
		conn: conn,
		rw:   readWriter{Reader: r, Writer: conn},
	}, nil
}

// readWriter pairs the handshake reader with the raw conn for wsutil.
type readWriter struct {
	io.Reader
	io.Writer
}

// wsConn adapts a gobwas/ws client connection to Conn. wsutil does not
// serialize writers on a raw net.Conn, so a mutex keeps concurrently
// written frames from interleaving on the wire.
type wsConn struct {
	conn net.Conn
	rw   readWriter
	wmu  sync.Mutex
}

func (c *wsConn) ReadText() ([]byte, error) {
	return wsutil.ReadServerText(c.rw)
}

func (c *wsConn) WriteText(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
	c.wmu.Unlock()
	return c.conn.Close()
}
