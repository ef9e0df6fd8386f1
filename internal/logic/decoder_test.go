package logic

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeRejection(t *testing.T) {
	d := NewDecoder(DefaultVocabulary())

	tests := []struct {
		name string
		line string
		want error
	}{
		{"plain text", "not json", ErrNotAnObject},
		{"incomplete object", "{incomplete", ErrNotAnObject},
		{"empty line", "", ErrNotAnObject},
		{"array", `[1,2]`, ErrNotAnObject},
		{"bad syntax", `{"type":realtime}`, ErrMalformedSyntax},
		{"two objects", `{"type":"status"}{"a":1}`, ErrMalformedSyntax},
		{"unknown tag", `{"type":"firmware"}`, ErrUnknownType},
		{"no discriminator", `{"force":2.0}`, ErrUnknownType},
		{"one channel only", `{"sensor1":{"current":1}}`, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := d.Decode(tt.line)
			if msg != nil {
				t.Errorf("expected no message, got %#v", msg)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if de.Line != tt.line {
				t.Errorf("expected line %q preserved, got %q", tt.line, de.Line)
			}
		})
	}
}

func TestDecodeUnknownCarriesFields(t *testing.T) {
	_, err := NewDecoder(DefaultVocabulary()).Decode(`{"type":"ota","version":"1.2"}`)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Fields["version"] != "1.2" {
		t.Errorf("expected parsed fields, got %v", de.Fields)
	}
}

func TestDecodeMinimalTelemetry(t *testing.T) {
	msg, err := NewDecoder(DefaultVocabulary()).Decode(`{"type":"realtime"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := msg.(RealtimeTelemetry)
	if !ok {
		t.Fatalf("expected RealtimeTelemetry, got %T", msg)
	}
	for _, c := range Channels {
		ct := m.Channel(c)
		if ct.Current.Value != 0 || ct.Max.Value != 0 || ct.Punches.Value != 0 || ct.Detected.Value {
			t.Errorf("%s: expected zero defaults, got %+v", c, ct)
		}
		if ct.Current.Present || ct.Punches.Present {
			t.Errorf("%s: expected fields absent, got %+v", c, ct)
		}
	}
	if m.TotalPunches.Present || m.SessionID.Present || m.CalibrationComplete.Value {
		t.Errorf("expected absent top-level fields, got %+v", m)
	}
}

func TestDecodeFullTelemetry(t *testing.T) {
	line := `  {"type":"realtime","sensor1":{"current":0.5,"max":1.2,"punches":3,"detected":true},` +
		`"sensor2":{"current":"0.25","max":0.9,"punches":2,"detected":false},"total_punches":5,` +
		`"training_time":65000,"session_id":"abc","learning_complete":true,"punch_threshold":0.8}` + "\r"
	msg, err := NewDecoder(DefaultVocabulary()).Decode(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := msg.(RealtimeTelemetry)

	s1 := m.Channel(Channel1)
	if s1.Current.Value != 0.5 || s1.Max.Value != 1.2 || s1.Punches.Value != 3 || !s1.Detected.Value {
		t.Errorf("sensor1: got %+v", s1)
	}
	s2 := m.Channel(Channel2)
	if s2.Current.Value != 0.25 {
		t.Errorf("expected numeric string to decode, got %+v", s2.Current)
	}
	if m.TotalPunches != Some(5) {
		t.Errorf("expected total 5, got %+v", m.TotalPunches)
	}
	if m.TrainingTime != Some(65*time.Second) {
		t.Errorf("expected 65s training time, got %+v", m.TrainingTime)
	}
	if m.SessionID != Some("abc") {
		t.Errorf("expected session abc, got %+v", m.SessionID)
	}
	if !m.CalibrationComplete.Value || m.Threshold.Value != 0.8 {
		t.Errorf("expected calibration and threshold, got %+v", m)
	}
}

func TestDecodeTelemetryByShape(t *testing.T) {
	d := NewDecoder(DefaultVocabulary())

	tests := []struct {
		name string
		line string
	}{
		{"nested untagged", `{"sensor1":{"current":1},"sensor2":{"current":2}}`},
		{"flattened", `{"sensor1_current":1,"sensor1_max":3,"sensor1_punches":4,"sensor1_detected":1,"sensor2_current":2}`},
		{"unrecognized tag falls back to shape", `{"type":"v0","sensor1":{"current":1},"sensor2_current":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := d.Decode(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			m, ok := msg.(RealtimeTelemetry)
			if !ok {
				t.Fatalf("expected RealtimeTelemetry, got %T", msg)
			}
			if m.Channel(Channel1).Current.Value != 1 || m.Channel(Channel2).Current.Value != 2 {
				t.Errorf("unexpected currents: %+v", m.Channels)
			}
		})
	}

	msg, _ := d.Decode(`{"sensor1_current":1,"sensor1_max":3,"sensor1_punches":4,"sensor1_detected":1,"sensor2_current":2}`)
	s1 := msg.(RealtimeTelemetry).Channel(Channel1)
	if s1.Max.Value != 3 || s1.Punches.Value != 4 || !s1.Detected.Value {
		t.Errorf("flattened fields not decoded: %+v", s1)
	}
}

func TestDecodeTagWinsOverShape(t *testing.T) {
	msg, err := NewDecoder(DefaultVocabulary()).Decode(`{"type":"status","sensor1":{},"sensor2":{}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind() != KindStatus {
		t.Errorf("expected status, got %s", msg.Kind())
	}
}

func TestDecodePunchEvent(t *testing.T) {
	d := NewDecoder(DefaultVocabulary())

	msg, err := d.Decode(`{"type":"punch_event","sensor":2,"zone":"body","force":2.3,"combined_force":2.5,"bpm":90,"punch_number":7,"timestamp":1767225600000}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := msg.(PunchEvent)
	if e.Channel != Channel2 {
		t.Errorf("expected channel 2, got %d", e.Channel)
	}
	if e.Zone != Some("body") || e.Force != Some(2.3) || e.CombinedForce != Some(2.5) {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Cadence != Some(90) || e.PunchNumber != Some(7) {
		t.Errorf("unexpected cadence/number: %+v", e)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !e.Timestamp.Present || !e.Timestamp.Value.Equal(want) {
		t.Errorf("expected timestamp %v, got %+v", want, e.Timestamp)
	}
}

func TestDecodePunchEventUptime(t *testing.T) {
	d := NewDecoder(DefaultVocabulary())

	msg, err := d.Decode(`{"type":"punch_event","sensor":1,"force":2.0,"punch_number":3,"timestamp":123456}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := msg.(PunchEvent)
	if e.Timestamp.Present {
		t.Errorf("uptime should not be read as wall clock, got %v", e.Timestamp.Value)
	}
	if e.Uptime != Some(123456*time.Millisecond) {
		t.Errorf("expected uptime 123.456s, got %+v", e.Uptime)
	}

	msg, _ = d.Decode(`{"type":"punch_event","timestamp":-5}`)
	if e := msg.(PunchEvent); e.Uptime.Present || e.Timestamp.Present {
		t.Errorf("negative timestamp should be absent, got %+v", e)
	}
}

func TestDecodePunchEventDefaults(t *testing.T) {
	d := NewDecoder(DefaultVocabulary())

	tests := []struct {
		name string
		line string
	}{
		{"tagged empty", `{"type":"punch_event"}`},
		{"event marker", `{"event":"punch"}`},
		{"marker case insensitive", `{"event":"STRIKE"}`},
		{"short tag", `{"type":"Punch"}`},
		{"out of range channel", `{"type":"punch_event","sensor":9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := d.Decode(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			e, ok := msg.(PunchEvent)
			if !ok {
				t.Fatalf("expected PunchEvent, got %T", msg)
			}
			if e.Channel != Channel1 {
				t.Errorf("expected default channel 1, got %d", e.Channel)
			}
			if e.Force.Value != 0 || e.Zone.Present || e.Timestamp.Present || e.Uptime.Present {
				t.Errorf("expected defaults, got %+v", e)
			}
		})
	}
}

func TestDecodeCustomVocabulary(t *testing.T) {
	d := NewDecoder(Vocabulary{TelemetryTags: []string{"tick"}})

	msg, err := d.Decode(`{"type":"tick"}`)
	if err != nil || msg.Kind() != KindTelemetry {
		t.Fatalf("expected telemetry for custom tag, got %v, %v", msg, err)
	}
	if _, err := d.Decode(`{"type":"realtime"}`); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected replaced tag to be unknown, got %v", err)
	}
	// Unset lists keep their defaults.
	if msg, err := d.Decode(`{"type":"punch_event"}`); err != nil || msg.Kind() != KindPunch {
		t.Errorf("expected default punch tag, got %v, %v", msg, err)
	}
}
