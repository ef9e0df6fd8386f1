package logic

import "time"

// DefaultDerivedForceScale matches the producer's combined_force convention.
const DefaultDerivedForceScale = 1.1

// SessionOptions configures AppendPunch.
type SessionOptions struct {
	DerivedForceScale float64
	Zones             Zones
	ReceivedAt        time.Time
}

// AppendPunch appends e to l and updates the aggregates in O(1).
// Punch events are facts and are never rejected. The returned log may share
// storage with l; callers keep only the returned value.
//
// Sequence numbers follow the producer's punch_number when it advances the
// log. A stale or repeated number is reported and replaced by the next local
// number. Once the log holds a record, a forward jump counts as missed punches.
func AppendPunch(l SessionLog, e PunchEvent, opts SessionOptions) (SessionLog, []Inconsistency) {
	var issues []Inconsistency

	ch := e.Channel
	if !ch.Valid() {
		ch = Channel1
	}

	force := nonNegative(e.Force.Value)
	derived := nonNegative(e.CombinedForce.Value)
	if !e.CombinedForce.Present {
		scale := opts.DerivedForceScale
		if scale <= 0 {
			scale = DefaultDerivedForceScale
		}
		derived = force * scale
	}

	last := l.LastSequence()
	seq := last + 1
	if e.PunchNumber.Present {
		n := e.PunchNumber.Value
		switch {
		case n > last:
			if len(l.Records) > 0 && n > last+1 {
				l.MissedPunches += n - last - 1
				issues = append(issues, Inconsistency{
					Kind:     InconsistencySequenceGap,
					Channel:  ch,
					Expected: last + 1,
					Got:      n,
				})
			}
			seq = n
		default:
			issues = append(issues, Inconsistency{
				Kind:     InconsistencySequenceRegression,
				Channel:  ch,
				Expected: last + 1,
				Got:      n,
			})
		}
	}

	stamp := e.Timestamp.Or(opts.ReceivedAt)
	if !e.Timestamp.Present && e.Uptime.Present {
		stamp = l.uptimeTime(e.Uptime.Value, opts.ReceivedAt)
	}

	rec := PunchRecord{
		Timestamp:      stamp,
		Channel:        ch,
		Zone:           e.Zone.Or(opts.Zones.Label(ch)),
		Force:          force,
		DerivedForce:   derived,
		SequenceNumber: seq,
	}
	if e.Cadence.Present && e.Cadence.Value >= 0 {
		cadence := e.Cadence.Value
		rec.Cadence = &cadence
	}

	l.Records = append(l.Records, rec)
	l.TotalCount++
	l.PeakForce = max(l.PeakForce, force)
	l.ForceSum += force
	l.ChannelCounts[ch.index()]++
	return l, issues
}

// uptimeTime places a producer uptime on the wall clock. The first uptime in
// a session anchors the mapping at its receipt time, so later records keep
// the producer's spacing. A counter that runs backwards, as after a device
// restart, re-anchors.
func (l *SessionLog) uptimeTime(uptime time.Duration, receivedAt time.Time) time.Time {
	if !l.uptimeOrigin.IsZero() {
		t := l.uptimeOrigin.Add(uptime)
		if n := len(l.Records); n == 0 || !t.Before(l.Records[n-1].Timestamp) {
			return t
		}
	}
	l.uptimeOrigin = receivedAt.Add(-uptime)
	return receivedAt
}
