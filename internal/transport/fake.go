package transport

import (
	"context"
	"sync"
)

// FakeDialer is a test double that hands out FakeConns.
type FakeDialer struct {
	mu sync.Mutex

	// DialError, if set, is returned by Dial.
	DialError error

	// Block makes Dial wait until its context ends.
	Block bool

	// Dials records every requested device.
	Dials []string

	conns []*FakeConn
}

// NewFakeDialer creates a FakeDialer for testing.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial records the request and returns a new FakeConn.
func (d *FakeDialer) Dial(ctx context.Context, device string) (Conn, error) {
	d.mu.Lock()
	d.Dials = append(d.Dials, device)
	dialErr, block := d.DialError, d.Block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &TransportError{Op: "open", Device: device, Err: ctx.Err()}
	}
	if dialErr != nil {
		return nil, &TransportError{Op: "open", Device: device, Err: dialErr}
	}

	c := NewFakeConn(device)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// SetDialError changes DialError safely while dials may be running.
func (d *FakeDialer) SetDialError(err error) {
	d.mu.Lock()
	d.DialError = err
	d.mu.Unlock()
}

// Last returns the most recent connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// DialCount returns the number of Dial calls.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}

// FakeConn is a scripted connection.
type FakeConn struct {
	device string
	chunks chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	err     error
	sent    []string
	closed  bool
	sendErr error
}

// NewFakeConn creates an open FakeConn for device.
func NewFakeConn(device string) *FakeConn {
	return &FakeConn{
		device: device,
		chunks: make(chan []byte),
		done:   make(chan struct{}),
	}
}

func (c *FakeConn) Device() string        { return c.device }
func (c *FakeConn) Chunks() <-chan []byte { return c.chunks }
func (c *FakeConn) Done() <-chan struct{} { return c.done }

func (c *FakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send records cmd.
func (c *FakeConn) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd)
	return nil
}

// Close marks the connection closed.
func (c *FakeConn) Close() error {
	c.end(nil)
	return nil
}

// Push delivers chunk, blocking until it is received or the connection ends.
// It reports whether the chunk was received.
func (c *FakeConn) Push(chunk string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.chunks <- []byte(chunk):
		return true
	case <-c.done:
		return false
	}
}

// Drop simulates a peer-initiated connection loss.
func (c *FakeConn) Drop(err error) {
	if err == nil {
		err = ErrLinkLost
	}
	c.end(&TransportError{Op: "read", Device: c.device, Err: err})
}

// SetSendError makes subsequent Sends fail with err.
func (c *FakeConn) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Sent returns the commands sent so far.
func (c *FakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Closed reports whether the connection has ended.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}
