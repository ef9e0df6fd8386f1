// Package status provides a thread-safe status tracker for the boxing-sensor daemon.
// It is read by the HTTP handlers and by heartbeat publishing.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/logic"
)

// ViewSource supplies the live connection and session state.
type ViewSource interface {
	View() controller.View
}

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Transport           string
	Device              string
	ConnectTimeoutMs    int64
	RetryDelayMs        int64
	TelemetryIntervalMs int64
	HeartbeatMs         int64
	Broker              string
	HTTPPort            string
	ArchiveDir          string
	DetectionMode       string
	Zones               logic.Zones
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	View          controller.View
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	LastArchive   string
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds daemon metadata behind an RWMutex and combines it with
// the live view on every Snapshot.
type Tracker struct {
	source ViewSource
	now    func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// A nil source yields an empty view.
func NewTracker(startTime time.Time, cfg Config, source ViewSource) *Tracker {
	return &Tracker{
		source: source,
		now:    time.Now,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetClock replaces the clock used for Snapshot.Now.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetLastArchive records the path of the most recently archived session.
func (t *Tracker) SetLastArchive(path string) {
	t.mu.Lock()
	t.snap.LastArchive = path
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()

	if t.source != nil {
		s.View = t.source.View()
	} else {
		s.View.Connection.State = controller.StateIdle
	}
	s.Now = now()
	return s
}
