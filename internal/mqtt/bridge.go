package mqtt

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/logic"
)

// Bridge maps controller notifications onto a Publisher. Telemetry is
// throttled to at most one message per interval; the newest snapshot
// seen inside the interval is sent by Flush.
type Bridge struct {
	pub      Publisher
	interval time.Duration
	logger   *slog.Logger

	lastSent time.Time
	pending  *logic.TelemetrySnapshot
}

// NewBridge creates a Bridge. A zero interval publishes every snapshot.
func NewBridge(pub Publisher, interval time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{pub: pub, interval: interval, logger: logger}
}

// Handle publishes whatever n implies. Publish errors are logged, never returned.
func (b *Bridge) Handle(n controller.Notification, now time.Time) {
	switch n := n.(type) {
	case controller.SnapshotUpdated:
		snap := n.Snapshot
		if b.due(now) {
			b.sendTelemetry(snap, now)
		} else {
			b.pending = &snap
		}

	case controller.PunchLogged:
		err := b.pub.PublishPunch(PunchEvent{
			Record:     n.Record,
			SessionID:  n.SessionID,
			TotalCount: n.TotalCount,
			PeakForce:  n.PeakForce,
		})
		if err != nil {
			b.logger.Warn("mqtt: punch publish failed", "seq", n.Record.SequenceNumber, "error", err)
		}

	case controller.StateChanged:
		ev := SystemEvent{Timestamp: now, Device: n.State.Device}
		switch n.State.State {
		case controller.StateStreaming:
			ev.Event = EventConnected
		case controller.StateDisconnected:
			ev.Event = EventDisconnected
			ev.Reason = "requested"
		case controller.StateError:
			ev.Event = EventDisconnected
			if n.State.Err != nil {
				ev.Reason = n.State.Err.Error()
			}
		default:
			return
		}
		b.system(ev)

	case controller.SessionEnded:
		// Whatever is pending belongs to the ended session.
		if b.pending != nil {
			b.sendTelemetry(*b.pending, now)
		}
		b.system(SystemEvent{
			Timestamp: n.EndedAt,
			Event:     EventSessionEnded,
			Reason:    n.Reason,
			SessionID: n.Snapshot.SessionID,
		})
	}
}

// Flush sends the pending snapshot if the interval has elapsed.
func (b *Bridge) Flush(now time.Time) {
	if b.pending == nil || !b.due(now) {
		return
	}
	snap := *b.pending
	b.pending = nil
	b.sendTelemetry(snap, now)
}

func (b *Bridge) due(now time.Time) bool {
	return b.lastSent.IsZero() || now.Sub(b.lastSent) >= b.interval
}

func (b *Bridge) sendTelemetry(snap logic.TelemetrySnapshot, now time.Time) {
	b.lastSent = now
	b.pending = nil
	if err := b.pub.PublishTelemetry(snap, now); err != nil && !errors.Is(err, ErrNotConnected) {
		b.logger.Warn("mqtt: telemetry publish failed", "error", err)
	}
}

func (b *Bridge) system(ev SystemEvent) {
	if err := b.pub.PublishSystem(ev); err != nil {
		b.logger.Warn("mqtt: system publish failed", "event", ev.Event, "error", err)
	}
}
