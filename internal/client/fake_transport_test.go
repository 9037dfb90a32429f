package client_test

import (
	"context"
	"io"
	"sync"

	"github.com/tbasson/pigeon/internal/client"
)

// fakeConn is an in-memory Conn: the test plays the server by feeding
// inbound frames and draining writes.
type fakeConn struct {
	inbound   chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadText() ([]byte, error) {
	select {
	case raw, ok := <-c.inbound:
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		return raw, nil
	case <-c.closed:
		return nil, io.ErrClosedPipe
	}
}

func (c *fakeConn) WriteText(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// serverSend delivers a raw frame as if the server pushed it.
func (c *fakeConn) serverSend(raw string) {
	c.inbound <- []byte(raw)
}

// serverFail makes the next read fail, simulating a transport error.
func (c *fakeConn) serverFail() {
	close(c.inbound)
}

// fakeDialer records the dialed target and hands out conn.
type fakeDialer struct {
	mu     sync.Mutex
	target string
	conn   *fakeConn
	err    error
}

func (d *fakeDialer) dial(_ context.Context, target string) (client.Conn, error) {
	d.mu.Lock()
	d.target = target
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) dialedTarget() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}
