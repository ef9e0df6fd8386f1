// Package logic contains the pure stream-processing core of the boxing sensor daemon:
// line framing, message decoding, and the telemetry and session reducers.
// It imports only the standard library, and time is always passed in.
package logic

import (
	"math"
	"strconv"
	"time"
)

// Channel identifies one of the two force-sensing inputs on the device.
type Channel int

const (
	Channel1 Channel = 1
	Channel2 Channel = 2
)

// Channels lists both channels in wire order.
var Channels = [2]Channel{Channel1, Channel2}

// Valid reports whether c names a sensing channel.
func (c Channel) Valid() bool {
	return c == Channel1 || c == Channel2
}

func (c Channel) String() string {
	return "sensor" + strconv.Itoa(int(c))
}

func (c Channel) index() int {
	return int(c) - 1
}

// Field is an optional message field. Present distinguishes "absent" from
// a zero value the producer actually sent.
type Field[T any] struct {
	Value   T
	Present bool
}

// Some returns a present field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// Or returns the value if present, else fallback.
func (f Field[T]) Or(fallback T) T {
	if f.Present {
		return f.Value
	}
	return fallback
}

// DetectionMode selects how telemetry detected flags turn into strikes.
type DetectionMode string

const (
	// DetectEdge treats every detected=true tick as one strike.
	DetectEdge DetectionMode = "edge"
	// DetectLevel treats detected as held while force stays above threshold;
	// only a false-to-true transition is a strike.
	DetectLevel DetectionMode = "level"
)

// Zones maps channels to human-readable target zone labels.
type Zones struct {
	Channel1 string `yaml:"channel1" json:"channel1"`
	Channel2 string `yaml:"channel2" json:"channel2"`
}

// DefaultZones returns the upper/lower taxonomy.
func DefaultZones() Zones {
	return Zones{Channel1: "upper", Channel2: "lower"}
}

// Label returns the zone label for c.
func (z Zones) Label(c Channel) string {
	if c == Channel2 {
		return z.Channel2
	}
	return z.Channel1
}

// ChannelReading is one channel's derived live state.
type ChannelReading struct {
	Current    float64
	Maximum    float64
	PunchCount int
	Detected   bool
}

// TelemetrySnapshot is the live dashboard state.
type TelemetrySnapshot struct {
	Channels            [2]ChannelReading
	TotalPunches        int
	TrainingElapsed     time.Duration
	SessionID           string
	CalibrationComplete bool
	DetectionThreshold  float64
}

// NewSnapshot returns an all-zero snapshot for a fresh session.
func NewSnapshot(sessionID string, threshold float64) TelemetrySnapshot {
	return TelemetrySnapshot{
		SessionID:          sessionID,
		DetectionThreshold: threshold,
	}
}

// Channel returns the reading for c.
func (s TelemetrySnapshot) Channel(c Channel) ChannelReading {
	return s.Channels[c.index()]
}

// ChannelSum is the locally derived punch total.
func (s TelemetrySnapshot) ChannelSum() int {
	return s.Channels[0].PunchCount + s.Channels[1].PunchCount
}

// ZonePercent is c's share of TotalPunches, rounded to a whole percent and
// capped at 100. With no punches both channels report 50.
func (s TelemetrySnapshot) ZonePercent(c Channel) int {
	if s.TotalPunches <= 0 {
		return 50
	}
	pct := math.Floor(float64(s.Channel(c).PunchCount)*100/float64(s.TotalPunches) + 0.5)
	return int(min(pct, 100))
}

// PunchRecord is one immutable strike fact in the session log.
type PunchRecord struct {
	Timestamp      time.Time
	Channel        Channel
	Zone           string
	Force          float64
	DerivedForce   float64
	Cadence        *int
	SequenceNumber int
}

// SessionLog is the append-only record of a training session.
type SessionLog struct {
	Records       []PunchRecord
	TotalCount    int
	PeakForce     float64
	ForceSum      float64
	ChannelCounts [2]int
	MissedPunches int
	StartedAt     time.Time

	// uptimeOrigin maps producer uptime onto wall-clock time.
	uptimeOrigin time.Time
}

// NewSessionLog returns an empty log starting at t.
func NewSessionLog(t time.Time) SessionLog {
	return SessionLog{StartedAt: t}
}

// AverageForce returns the mean force over all records, or zero.
func (l SessionLog) AverageForce() float64 {
	if l.TotalCount == 0 {
		return 0
	}
	return l.ForceSum / float64(l.TotalCount)
}

// LastSequence returns the sequence number of the newest record, or zero.
func (l SessionLog) LastSequence() int {
	if len(l.Records) == 0 {
		return 0
	}
	return l.Records[len(l.Records)-1].SequenceNumber
}

// Clone returns a copy that shares no storage with l.
func (l SessionLog) Clone() SessionLog {
	c := l
	c.Records = make([]PunchRecord, len(l.Records))
	copy(c.Records, l.Records)
	return c
}

// Strike is a detected flag observed in telemetry.
type Strike struct {
	Channel Channel
	Zone    string
	Force   float64
}

// InconsistencyKind classifies a soft protocol diagnostic.
type InconsistencyKind string

const (
	InconsistencyTotalMismatch      InconsistencyKind = "TOTAL_MISMATCH"
	InconsistencyCountRegression    InconsistencyKind = "COUNT_REGRESSION"
	InconsistencySequenceRegression InconsistencyKind = "SEQUENCE_REGRESSION"
	InconsistencySequenceGap        InconsistencyKind = "SEQUENCE_GAP"
)

// Inconsistency is a ProtocolInconsistency: the producer said something that
// disagrees with locally derived state. Never fatal.
type Inconsistency struct {
	Kind     InconsistencyKind
	Channel  Channel // zero when not channel specific
	Expected int
	Got      int
}

func (i Inconsistency) String() string {
	s := string(i.Kind)
	if i.Channel.Valid() {
		s += " " + i.Channel.String()
	}
	return s + ": expected " + strconv.Itoa(i.Expected) + ", got " + strconv.Itoa(i.Got)
}
