// Package archive persists finished training sessions as CBOR files,
// optionally compressed, named by session id and content hash.
package archive

import (
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// RecordVersion is bumped when SessionRecord changes incompatibly.
const RecordVersion = 1

// SessionRecord is the archived form of one session. Times are Unix
// milliseconds so the encoding does not depend on time.Time handling.
type SessionRecord struct {
	Version       int          `cbor:"version" json:"version"`
	SessionID     string       `cbor:"session_id" json:"session_id"`
	Reason        string       `cbor:"reason" json:"reason"`
	StartedAtMS   int64        `cbor:"started_at_ms" json:"started_at_ms"`
	EndedAtMS     int64        `cbor:"ended_at_ms" json:"ended_at_ms"`
	TrainingMS    int64        `cbor:"training_ms" json:"training_ms"`
	TotalPunches  int          `cbor:"total_punches" json:"total_punches"`
	PeakForce     float64      `cbor:"peak_force" json:"peak_force"`
	AverageForce  float64      `cbor:"average_force" json:"average_force"`
	ChannelCounts [2]int       `cbor:"channel_counts" json:"channel_counts"`
	MissedPunches int          `cbor:"missed_punches" json:"missed_punches"`
	Threshold     float64      `cbor:"threshold" json:"threshold"`
	Calibrated    bool         `cbor:"calibrated" json:"calibrated"`
	Punches       []PunchEntry `cbor:"punches" json:"punches"`
}

// PunchEntry is one archived punch.
type PunchEntry struct {
	TimestampMS  int64   `cbor:"ts_ms" json:"ts_ms"`
	Channel      int     `cbor:"channel" json:"channel"`
	Zone         string  `cbor:"zone" json:"zone"`
	Force        float64 `cbor:"force" json:"force"`
	DerivedForce float64 `cbor:"derived_force" json:"derived_force"`
	Cadence      *int    `cbor:"cadence,omitempty" json:"cadence,omitempty"`
	Sequence     int     `cbor:"seq" json:"seq"`
}

// NewRecord builds a record from the final state of a session.
func NewRecord(snap logic.TelemetrySnapshot, log logic.SessionLog, reason string, endedAt time.Time) SessionRecord {
	rec := SessionRecord{
		Version:       RecordVersion,
		SessionID:     snap.SessionID,
		Reason:        reason,
		StartedAtMS:   millis(log.StartedAt),
		EndedAtMS:     millis(endedAt),
		TrainingMS:    snap.TrainingElapsed.Milliseconds(),
		TotalPunches:  log.TotalCount,
		PeakForce:     log.PeakForce,
		AverageForce:  log.AverageForce(),
		ChannelCounts: log.ChannelCounts,
		MissedPunches: log.MissedPunches,
		Threshold:     snap.DetectionThreshold,
		Calibrated:    snap.CalibrationComplete,
		Punches:       make([]PunchEntry, 0, len(log.Records)),
	}
	for _, r := range log.Records {
		e := PunchEntry{
			TimestampMS:  millis(r.Timestamp),
			Channel:      int(r.Channel),
			Zone:         r.Zone,
			Force:        r.Force,
			DerivedForce: r.DerivedForce,
			Sequence:     r.SequenceNumber,
		}
		if r.Cadence != nil {
			v := *r.Cadence
			e.Cadence = &v
		}
		rec.Punches = append(rec.Punches, e)
	}
	return rec
}

// Empty reports whether the session saw no punches and no training time.
func (r SessionRecord) Empty() bool {
	return r.TotalPunches == 0 && len(r.Punches) == 0 && r.TrainingMS == 0
}

// StartedAt returns the session start time in UTC.
func (r SessionRecord) StartedAt() time.Time {
	return time.UnixMilli(r.StartedAtMS).UTC()
}

// EndedAt returns the session end time in UTC.
func (r SessionRecord) EndedAt() time.Time {
	return time.UnixMilli(r.EndedAtMS).UTC()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
