package logic

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Decode failures. All are recoverable: the line is discarded and
// processing continues.
var (
	ErrNotAnObject     = errors.New("not a JSON object")
	ErrMalformedSyntax = errors.New("malformed JSON")
	ErrUnknownType     = errors.New("unknown message type")
)

// DecodeErrorKind names a decode failure for counting and logging.
type DecodeErrorKind string

const (
	NotAnObject     DecodeErrorKind = "not_an_object"
	MalformedSyntax DecodeErrorKind = "malformed_syntax"
	UnknownType     DecodeErrorKind = "unknown_type"
)

func (k DecodeErrorKind) sentinel() error {
	switch k {
	case NotAnObject:
		return ErrNotAnObject
	case MalformedSyntax:
		return ErrMalformedSyntax
	default:
		return ErrUnknownType
	}
}

// DecodeError describes a rejected line. It matches the corresponding
// sentinel with errors.Is.
type DecodeError struct {
	Kind   DecodeErrorKind
	Line   string
	Fields map[string]any // parsed object, set for UnknownType
	Err    error          // underlying parse error, if any
}

func (e *DecodeError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the sentinel for e.Kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MessageKind labels a decoded message variant.
type MessageKind string

const (
	KindTelemetry MessageKind = "realtime"
	KindPunch     MessageKind = "punch_event"
	KindStatus    MessageKind = "status"
)

// Message is one of RealtimeTelemetry, PunchEvent or Status.
type Message interface {
	Kind() MessageKind
}

// ChannelTelemetry holds one channel's fields from a telemetry message.
type ChannelTelemetry struct {
	Current  Field[float64]
	Max      Field[float64]
	Punches  Field[int]
	Detected Field[bool]
}

// RealtimeTelemetry is a periodic snapshot message.
type RealtimeTelemetry struct {
	Channels            [2]ChannelTelemetry
	TotalPunches        Field[int]
	TrainingTime        Field[time.Duration]
	SessionID           Field[string]
	CalibrationComplete Field[bool]
	Threshold           Field[float64]
}

// Kind implements Message.
func (RealtimeTelemetry) Kind() MessageKind { return KindTelemetry }

// Channel returns the fields for c.
func (m RealtimeTelemetry) Channel(c Channel) ChannelTelemetry {
	return m.Channels[c.index()]
}

// PunchEvent is a discrete strike message.
type PunchEvent struct {
	Channel       Channel
	Zone          Field[string]
	Force         Field[float64]
	CombinedForce Field[float64]
	Cadence       Field[int]
	PunchNumber   Field[int]
	Timestamp     Field[time.Time]
	// Uptime holds a producer timestamp too small to be wall-clock time,
	// typically milliseconds since the device booted.
	Uptime Field[time.Duration]
}

// Kind implements Message.
func (PunchEvent) Kind() MessageKind { return KindPunch }

// Status is acknowledged and logged but changes no state.
type Status struct {
	Fields map[string]any
}

// Kind implements Message.
func (Status) Kind() MessageKind { return KindStatus }

// Vocabulary lists the discriminator values the decoder recognizes.
// Matching is case-insensitive.
type Vocabulary struct {
	TelemetryTags []string `yaml:"telemetry_tags" json:"telemetry_tags"`
	PunchTags     []string `yaml:"punch_tags" json:"punch_tags"`
	StatusTags    []string `yaml:"status_tags" json:"status_tags"`
	StrikeMarkers []string `yaml:"strike_markers" json:"strike_markers"`
}

// DefaultVocabulary covers every protocol revision seen from the firmware.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		TelemetryTags: []string{"realtime", "telemetry"},
		PunchTags:     []string{"punch_event", "punch"},
		StatusTags:    []string{"status"},
		StrikeMarkers: []string{"punch", "strike"},
	}
}

// Decoder classifies lines into messages. It is stateless after
// construction and safe for concurrent use.
type Decoder struct {
	telemetry map[string]bool
	punch     map[string]bool
	status    map[string]bool
	markers   map[string]bool
}

// NewDecoder builds a decoder for v. Empty lists fall back to the defaults.
func NewDecoder(v Vocabulary) *Decoder {
	def := DefaultVocabulary()
	pick := func(tags, fallback []string) map[string]bool {
		if len(tags) == 0 {
			tags = fallback
		}
		set := make(map[string]bool, len(tags))
		for _, t := range tags {
			set[normalizeTag(t)] = true
		}
		return set
	}
	return &Decoder{
		telemetry: pick(v.TelemetryTags, def.TelemetryTags),
		punch:     pick(v.PunchTags, def.PunchTags),
		status:    pick(v.StatusTags, def.StatusTags),
		markers:   pick(v.StrikeMarkers, def.StrikeMarkers),
	}
}

// Decode turns one framed line into a Message. Failures are *DecodeError.
func (d *Decoder) Decode(line string) (Message, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, &DecodeError{Kind: NotAnObject, Line: line}
	}

	fields, err := parseObject(trimmed)
	if err != nil {
		return nil, &DecodeError{Kind: MalformedSyntax, Line: line, Err: err}
	}

	tag, _ := fields["type"].(string)
	tag = normalizeTag(tag)
	switch {
	case d.telemetry[tag]:
		return decodeTelemetry(fields), nil
	case d.punch[tag]:
		return decodePunch(fields), nil
	case d.status[tag]:
		return Status{Fields: fields}, nil
	}

	// No recognized tag; fall back to shape.
	if hasChannelShape(fields, Channel1) && hasChannelShape(fields, Channel2) {
		return decodeTelemetry(fields), nil
	}
	if marker, ok := fields["event"].(string); ok && d.markers[normalizeTag(marker)] {
		return decodePunch(fields), nil
	}

	return nil, &DecodeError{Kind: UnknownType, Line: line, Fields: fields}
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseObject parses exactly one JSON object, keeping numbers as json.Number.
func parseObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("null object")
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func hasChannelShape(fields map[string]any, c Channel) bool {
	if _, ok := fields[c.String()].(map[string]any); ok {
		return true
	}
	_, ok := fields[c.String()+"_current"]
	return ok
}

// channelField looks a channel field up in the nested object first, then in
// the flattened sensorN_field form.
func channelField(fields map[string]any, c Channel, name string) (any, bool) {
	if nested, ok := fields[c.String()].(map[string]any); ok {
		if v, ok := nested[name]; ok {
			return v, true
		}
	}
	v, ok := fields[c.String()+"_"+name]
	return v, ok
}

func decodeTelemetry(fields map[string]any) RealtimeTelemetry {
	var m RealtimeTelemetry
	for _, c := range Channels {
		ct := &m.Channels[c.index()]
		if v, ok := channelField(fields, c, "current"); ok {
			ct.Current = asFloat(v)
		}
		if v, ok := channelField(fields, c, "max"); ok {
			ct.Max = asFloat(v)
		}
		if v, ok := channelField(fields, c, "punches"); ok {
			ct.Punches = asInt(v)
		}
		if v, ok := channelField(fields, c, "detected"); ok {
			ct.Detected = asBool(v)
		}
	}
	m.TotalPunches = asInt(fields["total_punches"])
	if ms := asFloat(fields["training_time"]); ms.Present && ms.Value >= 0 {
		m.TrainingTime = Some(time.Duration(ms.Value * float64(time.Millisecond)))
	}
	m.SessionID = asString(fields["session_id"])
	m.CalibrationComplete = asBool(fields["learning_complete"])
	m.Threshold = asFloat(fields["punch_threshold"])
	return m
}

func decodePunch(fields map[string]any) PunchEvent {
	e := PunchEvent{Channel: Channel1}
	ch := asInt(fields["sensor"])
	if !ch.Present {
		ch = asInt(fields["channel"])
	}
	if c := Channel(ch.Value); ch.Present && c.Valid() {
		e.Channel = c
	}
	e.Zone = asString(fields["zone"])
	e.Force = asFloat(fields["force"])
	e.CombinedForce = asFloat(fields["combined_force"])
	e.Cadence = asInt(fields["bpm"])
	e.PunchNumber = asInt(fields["punch_number"])
	if ms := asFloat(fields["timestamp"]); ms.Present && ms.Value >= 0 {
		if ms.Value >= minEpochMillis {
			e.Timestamp = Some(time.UnixMilli(int64(ms.Value)).UTC())
		} else {
			e.Uptime = Some(time.Duration(ms.Value * float64(time.Millisecond)))
		}
	}
	return e
}

// minEpochMillis is 2001-09-09T01:46:40Z. Smaller timestamps are uptime.
const minEpochMillis = 1e12

// asFloat accepts JSON numbers and numeric strings. Anything else, including
// non-finite values, is treated as absent.
func asFloat(v any) Field[float64] {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return Field[float64]{}
		}
		f = parsed
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return Field[float64]{}
		}
		f = parsed
	default:
		return Field[float64]{}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Field[float64]{}
	}
	return Some(f)
}

func asInt(v any) Field[int] {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return Some(int(i))
		}
	}
	f := asFloat(v)
	if !f.Present || f.Value > math.MaxInt32 || f.Value < math.MinInt32 {
		return Field[int]{}
	}
	return Some(int(f.Value))
}

func asBool(v any) Field[bool] {
	switch x := v.(type) {
	case bool:
		return Some(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Field[bool]{}
		}
		return Some(f != 0)
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return Field[bool]{}
		}
		return Some(b)
	}
	return Field[bool]{}
}

func asString(v any) Field[string] {
	switch x := v.(type) {
	case string:
		if x = strings.TrimSpace(x); x != "" {
			return Some(x)
		}
	case json.Number:
		return Some(x.String())
	}
	return Field[string]{}
}
