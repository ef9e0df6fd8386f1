// Package transport opens a byte stream to the sensor.
// The real implementations use a serial port (Bluetooth RFCOMM, USB) or
// the BLE Nordic UART service. The fake implementation allows testing
// without hardware.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned by Send after the connection has ended.
	ErrClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Send when the write queue is full.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrNoDevice is returned when no matching sensor can be found.
	ErrNoDevice = errors.New("no sensor device found")
	// ErrLinkLost reports a peer-initiated disconnect.
	ErrLinkLost = errors.New("link lost")
)

// Conn is an open stream to one sensor.
type Conn interface {
	// Device returns the resolved device identifier.
	Device() string

	// Chunks delivers raw inbound fragments in arrival order. Fragments
	// carry no framing guarantees.
	Chunks() <-chan []byte

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err returns why the connection ended, or nil if it was closed by the
	// caller or is still open.
	Err() error

	// Send queues a newline-terminated command. It never waits for the
	// device.
	Send(cmd string) error

	// Close ends the connection and releases its resources.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	// Dial opens a connection to device. An empty device or "auto" selects
	// the first matching sensor. Dial honors ctx cancellation and deadline.
	Dial(ctx context.Context, device string) (Conn, error)
}

// TransportError is a connection failure with the operation that failed.
type TransportError struct {
	Op     string // "open", "scan", "connect", "read", "write"
	Device string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// sendQueueSize bounds queued outbound commands per connection.
const sendQueueSize = 16

// stream is the Conn shared by the real transports. A read side delivers
// fragments; a write loop drains queued commands.
type stream struct {
	device string
	chunks chan []byte
	writes chan string
	done   chan struct{}
	write  func([]byte) error
	closer func() error
	logger *slog.Logger

	once     sync.Once
	mu       sync.Mutex
	err      error
	closeErr error
}

func newStream(device string, write func([]byte) error, closer func() error, logger *slog.Logger) *stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &stream{
		device: device,
		chunks: make(chan []byte, 64),
		writes: make(chan string, sendQueueSize),
		done:   make(chan struct{}),
		write:  write,
		closer: closer,
		logger: logger,
	}
}

func (s *stream) Device() string        { return s.device }
func (s *stream) Chunks() <-chan []byte { return s.chunks }
func (s *stream) Done() <-chan struct{} { return s.done }
func (s *stream) Close() error          { return s.finish(nil) }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Send(cmd string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.writes <- cmd:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// deliver copies b to the consumer. It drops the fragment if the
// connection has ended.
func (s *stream) deliver(b []byte) {
	if len(b) == 0 {
		return
	}
	buf := append([]byte(nil), b...)
	select {
	case s.chunks <- buf:
	case <-s.done:
	}
}

// finish ends the stream once. err is the loss reason, nil for a caller close.
func (s *stream) finish(err error) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

func (s *stream) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.writes:
			if err := s.write([]byte(cmd + "\n")); err != nil {
				s.logger.Warn("transport: write failed", "device", s.device, "error", err)
				s.finish(&TransportError{Op: "write", Device: s.device, Err: err})
				return
			}
			s.logger.Debug("transport: sent command", "device", s.device, "command", cmd)
		}
	}
}
