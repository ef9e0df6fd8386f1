// Package mqtt republishes sensor state to an MQTT broker, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "boxing/sensor"

// Topics holds the three topics the daemon publishes on.
type Topics struct {
	Telemetry string
	Punches   string
	System    string
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Telemetry: prefix + "/telemetry",
		Punches:   prefix + "/punches",
		System:    prefix + "/system",
	}
}

// Publisher publishes sensor state to MQTT.
type Publisher interface {
	// PublishTelemetry sends the live snapshot. Telemetry is best effort
	// and is not buffered while the broker is unreachable.
	PublishTelemetry(snap logic.TelemetrySnapshot, at time.Time) error

	// PublishPunch sends one logged punch.
	PublishPunch(punch PunchEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// PunchEvent is a logged punch plus the session totals after it.
type PunchEvent struct {
	Record     logic.PunchRecord
	SessionID  string
	TotalCount int
	PeakForce  float64
}

// SystemEvent represents a system lifecycle event (e.g. STARTUP, CONNECTED, SESSION_ENDED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM", "reset", a transport error
	Device     string
	SessionID  string
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// System event names.
const (
	EventStartup      = "STARTUP"
	EventShutdown     = "SHUTDOWN"
	EventHeartbeat    = "HEARTBEAT"
	EventConnected    = "CONNECTED"
	EventDisconnected = "DISCONNECTED"
	EventSessionEnded = "SESSION_ENDED"
	EventOffline      = "OFFLINE"
)

// TelemetryPayload is the JSON envelope for telemetry messages.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains the snapshot fields.
type TelemetryInner struct {
	Timestamp    string                    `json:"timestamp"`
	SessionID    string                    `json:"session_id"`
	TotalPunches int                       `json:"total_punches"`
	TrainingMs   int64                     `json:"training_ms"`
	Calibrated   bool                      `json:"calibrated"`
	Threshold    float64                   `json:"threshold"`
	Channels     map[string]ChannelPayload `json:"channels"`
}

// ChannelPayload is one channel's live reading.
type ChannelPayload struct {
	Current  float64 `json:"current"`
	Max      float64 `json:"max"`
	Punches  int     `json:"punches"`
	Percent  int     `json:"percent"`
	Detected bool    `json:"detected"`
}

// FormatTelemetryPayload creates the JSON payload for a snapshot.
func FormatTelemetryPayload(snap logic.TelemetrySnapshot, at time.Time) ([]byte, error) {
	inner := TelemetryInner{
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
		SessionID:    snap.SessionID,
		TotalPunches: snap.TotalPunches,
		TrainingMs:   snap.TrainingElapsed.Milliseconds(),
		Calibrated:   snap.CalibrationComplete,
		Threshold:    snap.DetectionThreshold,
		Channels:     make(map[string]ChannelPayload, len(logic.Channels)),
	}
	for _, c := range logic.Channels {
		r := snap.Channel(c)
		inner.Channels[c.String()] = ChannelPayload{
			Current:  r.Current,
			Max:      r.Maximum,
			Punches:  r.PunchCount,
			Percent:  snap.ZonePercent(c),
			Detected: r.Detected,
		}
	}
	return json.Marshal(TelemetryPayload{Telemetry: inner})
}

// PunchPayload is the JSON envelope for punch messages.
type PunchPayload struct {
	Punch PunchInner `json:"punch"`
}

// PunchInner contains one punch record.
type PunchInner struct {
	Timestamp    string  `json:"timestamp"`
	SessionID    string  `json:"session_id"`
	Sequence     int     `json:"sequence"`
	Channel      int     `json:"channel"`
	Zone         string  `json:"zone"`
	Force        float64 `json:"force"`
	DerivedForce float64 `json:"derived_force"`
	Cadence      *int    `json:"cadence,omitempty"`
	TotalCount   int     `json:"total_count"`
	PeakForce    float64 `json:"peak_force"`
}

// FormatPunchPayload creates the JSON payload for a punch.
func FormatPunchPayload(p PunchEvent) ([]byte, error) {
	return json.Marshal(PunchPayload{Punch: PunchInner{
		Timestamp:    p.Record.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID:    p.SessionID,
		Sequence:     p.Record.SequenceNumber,
		Channel:      int(p.Record.Channel),
		Zone:         p.Record.Zone,
		Force:        p.Record.Force,
		DerivedForce: p.Record.DerivedForce,
		Cadence:      p.Record.Cadence,
		TotalCount:   p.TotalCount,
		PeakForce:    p.PeakForce,
	}})
}

// SystemPayload represents the MQTT message payload for simple system
// events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Device    string `json:"device,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{System: SystemPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
		Device:    event.Device,
		SessionID: event.SessionID,
	}})
}
