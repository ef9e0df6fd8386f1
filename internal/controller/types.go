// Package controller owns one sensor connection and the state derived from
// its stream. It routes transport chunks through the framer, decoder and
// reducers, and tells subscribers what changed.
package controller

import (
	"errors"
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateStreaming    State = "STREAMING"
	StateError        State = "ERROR"
	StateDisconnected State = "DISCONNECTED"
)

var (
	// ErrBusy is returned by Connect while connecting or streaming.
	ErrBusy = errors.New("controller: connection already active")
	// ErrResetNotAllowed is returned by Reset outside Streaming and Disconnected.
	ErrResetNotAllowed = errors.New("controller: reset not allowed in current state")
	// ErrNotStreaming is returned by operations that need a live connection.
	ErrNotStreaming = errors.New("controller: not streaming")
	// ErrAborted is returned by Connect when Disconnect interrupts the dial.
	ErrAborted = errors.New("controller: connect aborted")
)

// ConnectionState is the lifecycle state plus the device it refers to.
type ConnectionState struct {
	State  State
	Device string
	// Err is the transport error that caused StateError.
	Err error
}

// Stats counts what the controller has seen. Counters are cumulative across
// connections.
type Stats struct {
	Chunks          int
	Lines           int
	Telemetry       int
	Punches         int
	Status          int
	NotAnObject     int
	MalformedSyntax int
	UnknownType     int
	Inconsistencies int
	Overflows       int
	StaleChunks     int
	Dropped         int // snapshots and strikes not delivered to slow subscribers
	Sessions        int
}

// DecodeErrors returns the total number of rejected lines.
func (s Stats) DecodeErrors() int {
	return s.NotAnObject + s.MalformedSyntax + s.UnknownType
}

// View is a read-only copy of the controller's state.
type View struct {
	Connection    ConnectionState
	Snapshot      logic.TelemetrySnapshot
	Log           logic.SessionLog
	Stats         Stats
	TrainingStart time.Time
}

// Notification is one of StateChanged, SnapshotUpdated, PunchLogged,
// StrikeObserved or SessionEnded.
type Notification interface {
	notification()
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	State ConnectionState
}

// SnapshotUpdated carries the snapshot after a telemetry message or reset.
type SnapshotUpdated struct {
	Snapshot logic.TelemetrySnapshot
}

// PunchLogged carries a newly appended record.
type PunchLogged struct {
	Record     logic.PunchRecord
	SessionID  string
	TotalCount int
	PeakForce  float64
}

// StrikeObserved is a detected flag seen in telemetry, for transient feedback.
type StrikeObserved struct {
	Strike logic.Strike
}

// SessionEnded carries the final state of a session at a reset, disconnect
// or connection loss.
type SessionEnded struct {
	Snapshot logic.TelemetrySnapshot
	Log      logic.SessionLog
	Reason   string
	EndedAt  time.Time
}

func (StateChanged) notification()    {}
func (SnapshotUpdated) notification() {}
func (PunchLogged) notification()     {}
func (StrikeObserved) notification()  {}
func (SessionEnded) notification()    {}

// Session end reasons.
const (
	ReasonReset          = "reset"
	ReasonDisconnect     = "disconnect"
	ReasonConnectionLost = "connection_lost"
)
