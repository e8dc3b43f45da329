// Copyright 2025 Certen Protocol
//
// FakePushConn is an in-memory push-channel fake: a concrete
// WebSocket/SSE transport is an external collaborator, so tests (here
// and in pkg/syncctl) exercise PushClient against this instead of a real
// socket.

package transport

import (
	"errors"
	"sync"
)

// ErrFakeConnClosed is returned by ReadFrame/WriteFrame after Close.
var ErrFakeConnClosed = errors.New("transport: fake push conn closed")

// FakePushConn implements Conn over in-memory channels. Push(event) lets a
// test simulate the server sending a frame; Sent() drains frames the
// client under test wrote (its control frames).
type FakePushConn struct {
	mu     sync.Mutex
	closed bool

	inbound  chan []byte
	outbound chan []byte
}

// NewFakePushConn constructs an open fake connection.
func NewFakePushConn() *FakePushConn {
	return &FakePushConn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
	}
}

// ReadFrame implements Conn.
func (c *FakePushConn) ReadFrame() ([]byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return nil, ErrFakeConnClosed
	}
	return data, nil
}

// WriteFrame implements Conn.
func (c *FakePushConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrFakeConnClosed
	}
	c.mu.Unlock()
	c.outbound <- append([]byte(nil), data...)
	return nil
}

// Close implements Conn.
func (c *FakePushConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbound)
	return nil
}

// PushRaw enqueues a raw JSON frame as if received from the server.
func (c *FakePushConn) PushRaw(data []byte) {
	c.inbound <- data
}

// Sent returns the channel of frames the client wrote, for assertions in
// tests.
func (c *FakePushConn) Sent() <-chan []byte {
	return c.outbound
}

// NewFakeDialer returns a Dialer that always hands out conn, never
// erroring. Use NewFailingThenFakeDialer for reconnect-path tests.
func NewFakeDialer(conn *FakePushConn) Dialer {
	return func() (Conn, error) {
		return conn, nil
	}
}

// NewFailingThenFakeDialer returns a Dialer that fails the first
// failCount calls with err, then succeeds by handing out conn, useful for
// exercising PushClient's backoff/reconnect path deterministically.
func NewFailingThenFakeDialer(failCount int, err error, conn *FakePushConn) Dialer {
	attempts := 0
	var mu sync.Mutex
	return func() (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= failCount {
			return nil, err
		}
		return conn, nil
	}
}
