package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Connection    ConnectionJSON `json:"connection"`
	Session       SessionJSON    `json:"session"`
	Counters      CountersJSON   `json:"counters"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	LastArchive   string         `json:"last_archive,omitempty"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// ConnectionJSON reports the sensor link.
type ConnectionJSON struct {
	State  string `json:"state"`
	Device string `json:"device,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SessionJSON summarizes the current session.
type SessionJSON struct {
	ID              string        `json:"id"`
	StartedAt       string        `json:"started_at,omitempty"`
	TrainingSeconds int64         `json:"training_seconds"`
	TotalPunches    int           `json:"total_punches"`
	Logged          int           `json:"logged"`
	PeakForce       float64       `json:"peak_force"`
	AverageForce    float64       `json:"average_force"`
	MissedPunches   int           `json:"missed_punches"`
	Calibrated      bool          `json:"calibrated"`
	Threshold       float64       `json:"threshold"`
	Channels        []ChannelJSON `json:"channels"`
}

// ChannelJSON is one channel's live reading.
type ChannelJSON struct {
	Channel  int     `json:"channel"`
	Zone     string  `json:"zone"`
	Current  float64 `json:"current"`
	Max      float64 `json:"max"`
	Punches  int     `json:"punches"`
	Percent  int     `json:"percent"`
	Logged   int     `json:"logged"`
	Detected bool    `json:"detected"`
}

// CountersJSON is the JSON representation of controller stats.
type CountersJSON struct {
	Lines           int `json:"lines"`
	Telemetry       int `json:"telemetry"`
	Punches         int `json:"punches"`
	Status          int `json:"status"`
	DecodeErrors    int `json:"decode_errors"`
	Inconsistencies int `json:"inconsistencies"`
	Overflows       int `json:"overflows"`
	Dropped         int `json:"dropped_notifications"`
	Sessions        int `json:"sessions"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Transport           string `json:"transport"`
	Device              string `json:"device"`
	ConnectTimeoutMs    int64  `json:"connect_timeout_ms"`
	RetryDelayMs        int64  `json:"retry_delay_ms"`
	TelemetryIntervalMs int64  `json:"telemetry_interval_ms"`
	HeartbeatMs         int64  `json:"heartbeat_ms"`
	Broker              string `json:"broker,omitempty"`
	HTTPPort            string `json:"http_port"`
	ArchiveDir          string `json:"archive_dir,omitempty"`
	DetectionMode       string `json:"detection_mode"`
}

func buildInner(snap Snapshot) StatusInner {
	v := snap.View
	conn := ConnectionJSON{
		State:  string(v.Connection.State),
		Device: v.Connection.Device,
	}
	if conn.State == "" {
		conn.State = "UNKNOWN"
	}
	if v.Connection.Err != nil {
		conn.Error = v.Connection.Err.Error()
	}

	zones := snap.Config.Zones
	if zones == (logic.Zones{}) {
		zones = logic.DefaultZones()
	}
	session := SessionJSON{
		ID:              v.Snapshot.SessionID,
		TrainingSeconds: int64(v.Snapshot.TrainingElapsed.Seconds()),
		TotalPunches:    v.Snapshot.TotalPunches,
		Logged:          v.Log.TotalCount,
		PeakForce:       v.Log.PeakForce,
		AverageForce:    v.Log.AverageForce(),
		MissedPunches:   v.Log.MissedPunches,
		Calibrated:      v.Snapshot.CalibrationComplete,
		Threshold:       v.Snapshot.DetectionThreshold,
	}
	if !v.Log.StartedAt.IsZero() {
		session.StartedAt = v.Log.StartedAt.UTC().Format(time.RFC3339)
	}
	for i, c := range logic.Channels {
		r := v.Snapshot.Channel(c)
		session.Channels = append(session.Channels, ChannelJSON{
			Channel:  int(c),
			Zone:     zones.Label(c),
			Current:  r.Current,
			Max:      r.Maximum,
			Punches:  r.PunchCount,
			Percent:  v.Snapshot.ZonePercent(c),
			Logged:   v.Log.ChannelCounts[i],
			Detected: r.Detected,
		})
	}

	st := v.Stats
	return StatusInner{
		Connection: conn,
		Session:    session,
		Counters: CountersJSON{
			Lines:           st.Lines,
			Telemetry:       st.Telemetry,
			Punches:         st.Punches,
			Status:          st.Status,
			DecodeErrors:    st.DecodeErrors(),
			Inconsistencies: st.Inconsistencies,
			Overflows:       st.Overflows,
			Dropped:         st.Dropped,
			Sessions:        st.Sessions,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		LastArchive:   snap.LastArchive,
		Config: ConfigJSON{
			Transport:           snap.Config.Transport,
			Device:              snap.Config.Device,
			ConnectTimeoutMs:    snap.Config.ConnectTimeoutMs,
			RetryDelayMs:        snap.Config.RetryDelayMs,
			TelemetryIntervalMs: snap.Config.TelemetryIntervalMs,
			HeartbeatMs:         snap.Config.HeartbeatMs,
			Broker:              snap.Config.Broker,
			HTTPPort:            snap.Config.HTTPPort,
			ArchiveDir:          snap.Config.ArchiveDir,
			DetectionMode:       snap.Config.DetectionMode,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// PunchJSON is one row of the session log.
type PunchJSON struct {
	Sequence     int     `json:"seq"`
	Timestamp    string  `json:"timestamp"`
	Channel      int     `json:"channel"`
	Zone         string  `json:"zone"`
	Force        float64 `json:"force"`
	DerivedForce float64 `json:"derived_force"`
	Cadence      *int    `json:"cadence,omitempty"`
}

// SessionLogJSON is the session log envelope.
type SessionLogJSON struct {
	Session SessionJSON `json:"session"`
	Punches []PunchJSON `json:"punches"`
}

// FormatSessionJSON returns the full session log, newest punch last.
func FormatSessionJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	out := SessionLogJSON{
		Session: inner.Session,
		Punches: make([]PunchJSON, 0, len(snap.View.Log.Records)),
	}
	for _, r := range snap.View.Log.Records {
		out.Punches = append(out.Punches, PunchJSON{
			Sequence:     r.SequenceNumber,
			Timestamp:    r.Timestamp.UTC().Format(time.RFC3339Nano),
			Channel:      int(r.Channel),
			Zone:         r.Zone,
			Force:        r.Force,
			DerivedForce: r.DerivedForce,
			Cadence:      r.Cadence,
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}
