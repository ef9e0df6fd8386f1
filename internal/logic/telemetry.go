package logic

import "time"

// TelemetryOptions configures ApplyTelemetry.
type TelemetryOptions struct {
	Mode  DetectionMode
	Zones Zones
	// LocalElapsed is the time since training start, used only when the
	// producer omits training_time.
	LocalElapsed time.Duration
}

// Reduction is the outcome of folding one telemetry message.
type Reduction struct {
	Snapshot        TelemetrySnapshot
	Strikes         []Strike
	Inconsistencies []Inconsistency
}

// ApplyTelemetry folds m into s. It never fails.
//
// Counter reconciliation: a channel punch count lower than the held value is
// reported and ignored. The producer's total_punches wins when present and a
// disagreement with the channel sum is reported; without it the channel sum
// is used.
func ApplyTelemetry(s TelemetrySnapshot, m RealtimeTelemetry, opts TelemetryOptions) Reduction {
	r := Reduction{Snapshot: s}
	next := &r.Snapshot

	for _, c := range Channels {
		prev := s.Channel(c)
		in := m.Channel(c)
		cur := prev

		cur.Current = nonNegative(in.Current.Value)
		cur.Maximum = max(prev.Maximum, cur.Current)
		if in.Max.Present {
			cur.Maximum = max(cur.Maximum, nonNegative(in.Max.Value))
		}

		if in.Punches.Present {
			if in.Punches.Value < prev.PunchCount {
				r.Inconsistencies = append(r.Inconsistencies, Inconsistency{
					Kind:     InconsistencyCountRegression,
					Channel:  c,
					Expected: prev.PunchCount,
					Got:      in.Punches.Value,
				})
			} else {
				cur.PunchCount = in.Punches.Value
			}
		}

		cur.Detected = in.Detected.Value
		if cur.Detected && (opts.Mode != DetectLevel || !prev.Detected) {
			r.Strikes = append(r.Strikes, Strike{
				Channel: c,
				Zone:    opts.Zones.Label(c),
				Force:   cur.Current,
			})
		}

		next.Channels[c.index()] = cur
	}

	sum := next.ChannelSum()
	if m.TotalPunches.Present {
		total := max(m.TotalPunches.Value, 0)
		if total != sum {
			r.Inconsistencies = append(r.Inconsistencies, Inconsistency{
				Kind:     InconsistencyTotalMismatch,
				Expected: sum,
				Got:      total,
			})
		}
		next.TotalPunches = total
	} else {
		next.TotalPunches = sum
	}

	if m.TrainingTime.Present {
		next.TrainingElapsed = max(s.TrainingElapsed, m.TrainingTime.Value)
	} else {
		next.TrainingElapsed = max(s.TrainingElapsed, opts.LocalElapsed)
	}

	if m.SessionID.Present {
		next.SessionID = m.SessionID.Value
	}
	if m.CalibrationComplete.Value {
		next.CalibrationComplete = true
	}
	if m.Threshold.Present && m.Threshold.Value > 0 {
		next.DetectionThreshold = m.Threshold.Value
	}

	return r
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
