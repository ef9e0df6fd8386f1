package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// FakePublisher records published messages for test assertions.
// It is safe for concurrent use; read recordings through the accessors.
type FakePublisher struct {
	mu sync.Mutex

	telemetry      []logic.TelemetrySnapshot
	punches        []PunchEvent
	punchPayloads  [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	closed         bool

	// PublishError, if set, is returned by PublishTelemetry and PublishPunch.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishTelemetry records the snapshot.
func (f *FakePublisher) PublishTelemetry(snap logic.TelemetrySnapshot, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	if _, err := FormatTelemetryPayload(snap, at); err != nil {
		return err
	}
	f.telemetry = append(f.telemetry, snap)
	return nil
}

// PublishPunch records the punch.
func (f *FakePublisher) PublishPunch(punch PunchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPunchPayload(punch)
	if err != nil {
		return err
	}
	f.punches = append(f.punches, punch)
	f.punchPayloads = append(f.punchPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the reported connection state.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	f.Connected = connected
	f.mu.Unlock()
}

// Telemetry returns the published snapshots.
func (f *FakePublisher) Telemetry() []logic.TelemetrySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.TelemetrySnapshot(nil), f.telemetry...)
}

// Punches returns the published punches.
func (f *FakePublisher) Punches() []PunchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PunchEvent(nil), f.punches...)
}

// PunchPayloads returns the JSON payloads of published punches.
func (f *FakePublisher) PunchPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.punchPayloads...)
}

// SystemEvents returns the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON payloads of published system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetry = nil
	f.punches = nil
	f.punchPayloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
}
