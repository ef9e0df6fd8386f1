package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/boxing-sensor/internal/logic"
	"github.com/sweeney/boxing-sensor/internal/transport"
)

// Defaults for Options.
const (
	DefaultConnectTimeout   = 20 * time.Second
	DefaultThreshold        = 0.8
	DefaultResetCommand     = "RESET"
	DefaultCalibrateCommand = "CALIBRATE"
	DefaultMaxPendingLine   = 64 * 1024
)

// Options configures a Controller. Zero fields take the defaults.
type Options struct {
	ConnectTimeout    time.Duration
	DefaultThreshold  float64
	DerivedForceScale float64
	Mode              logic.DetectionMode
	Zones             logic.Zones
	Vocabulary        logic.Vocabulary
	ResetCommand      string
	CalibrateCommand  string
	// MaxPendingLine discards a partial line that grows past this many
	// bytes. Negative disables the guard.
	MaxPendingLine int

	Logger       *slog.Logger
	Now          func() time.Time
	NewSessionID func() string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.DefaultThreshold <= 0 {
		o.DefaultThreshold = DefaultThreshold
	}
	if o.DerivedForceScale <= 0 {
		o.DerivedForceScale = logic.DefaultDerivedForceScale
	}
	if o.Mode == "" {
		o.Mode = logic.DetectEdge
	}
	if o.Zones == (logic.Zones{}) {
		o.Zones = logic.DefaultZones()
	}
	if o.ResetCommand == "" {
		o.ResetCommand = DefaultResetCommand
	}
	if o.CalibrateCommand == "" {
		o.CalibrateCommand = DefaultCalibrateCommand
	}
	if o.MaxPendingLine == 0 {
		o.MaxPendingLine = DefaultMaxPendingLine
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewSessionID == nil {
		o.NewSessionID = func() string { return "session_" + uuid.NewString() }
	}
	return o
}

// Controller runs the connection lifecycle for one sensor.
// All state mutation happens under mu, so each chunk is processed to
// completion before the next one and before any Disconnect takes effect.
type Controller struct {
	dialer  transport.Dialer
	opts    Options
	logger  *slog.Logger
	decoder *logic.Decoder

	mu            sync.Mutex
	conn          ConnectionState
	snapshot      logic.TelemetrySnapshot
	log           logic.SessionLog
	framer        *logic.Framer
	stats         Stats
	trainingStart time.Time
	sessionOpen   bool
	link          transport.Conn
	gen           uint64
	cancelDial    context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// New creates an idle controller that opens connections with dialer.
func New(dialer transport.Dialer, opts Options) *Controller {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Controller{
		dialer:   dialer,
		opts:     opts,
		logger:   opts.Logger,
		decoder:  logic.NewDecoder(opts.Vocabulary),
		conn:     ConnectionState{State: StateIdle},
		snapshot: logic.NewSnapshot(opts.NewSessionID(), opts.DefaultThreshold),
		log:      logic.NewSessionLog(now),
		framer:   logic.NewFramer(),
		subs:     make(map[int]*subscriber),
	}
}

// Connect dials device and enters Streaming on success. It is allowed from
// Idle, Error and Disconnected. The dial is bounded by ConnectTimeout and
// is cancelled by a concurrent Disconnect.
func (c *Controller) Connect(ctx context.Context, device string) error {
	c.mu.Lock()
	switch c.conn.State {
	case StateConnecting, StateStreaming:
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	c.cancelDial = cancel
	c.setState(ConnectionState{State: StateConnecting, Device: device})
	c.mu.Unlock()

	link, err := c.dialer.Dial(dialCtx, device)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if link != nil {
			link.Close()
		}
		return fmt.Errorf("connect %s: %w", device, ErrAborted)
	}
	c.cancelDial = nil

	if err != nil {
		if timedOut {
			c.logger.Warn("controller: connect timed out", "device", device, "timeout", c.opts.ConnectTimeout)
		} else {
			c.logger.Warn("controller: connect failed", "device", device, "error", err)
		}
		c.setState(ConnectionState{State: StateError, Device: device, Err: err})
		return fmt.Errorf("connect %s: %w", device, err)
	}

	if d := link.Device(); d != "" {
		device = d
	}
	c.link = link
	c.beginSession(c.opts.Now(), true)
	c.framer.Reset()
	c.setState(ConnectionState{State: StateStreaming, Device: device})
	c.publish(SnapshotUpdated{Snapshot: c.snapshot})

	go c.pump(gen, link)
	return nil
}

// Disconnect tears down the connection from any state. A pending dial is
// cancelled. Snapshot and log are kept until the next connect or reset.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.gen++

	var err error
	if c.link != nil {
		err = c.link.Close()
		c.link = nil
	}
	c.framer.Reset()
	c.endSession(ReasonDisconnect)
	c.setState(ConnectionState{State: StateDisconnected, Device: c.conn.Device})
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Reset clears the session log and zeroes the snapshot under a fresh
// session id. It is allowed only while Streaming or Disconnected; when
// streaming, the reset command is also sent to the device without waiting
// for a reply. The connection state is unchanged.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	streaming := c.conn.State == StateStreaming
	if !streaming && c.conn.State != StateDisconnected {
		return ErrResetNotAllowed
	}

	c.endSession(ReasonReset)
	c.beginSession(c.opts.Now(), streaming)
	c.publish(SnapshotUpdated{Snapshot: c.snapshot})

	if streaming {
		if err := c.link.Send(c.opts.ResetCommand); err != nil {
			c.logger.Warn("controller: reset command not sent", "error", err)
		}
	}
	c.logger.Info("controller: session reset", "session_id", c.snapshot.SessionID)
	return nil
}

// Calibrate asks the device to relearn its baseline.
func (c *Controller) Calibrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn.State != StateStreaming {
		return ErrNotStreaming
	}
	if err := c.link.Send(c.opts.CalibrateCommand); err != nil {
		return fmt.Errorf("send calibrate: %w", err)
	}
	c.logger.Info("controller: calibration requested")
	return nil
}

// Feed pushes a chunk into the current connection as if the transport had
// delivered it.
func (c *Controller) Feed(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn.State != StateStreaming {
		c.stats.StaleChunks++
		return ErrNotStreaming
	}
	c.process(chunk)
	return nil
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Connection:    c.conn,
		Snapshot:      c.snapshot,
		Log:           c.log.Clone(),
		Stats:         c.stats,
		TrainingStart: c.trainingStart,
	}
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Controller) pump(gen uint64, link transport.Conn) {
	for {
		select {
		case b := <-link.Chunks():
			c.ingest(gen, b)
		case <-link.Done():
			// Chunks queued before the loss are still part of the session.
			for {
				select {
				case b := <-link.Chunks():
					c.ingest(gen, b)
				default:
					c.lost(gen, link)
					return
				}
			}
		}
	}
}

func (c *Controller) ingest(gen uint64, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.conn.State != StateStreaming {
		c.stats.StaleChunks++
		return
	}
	c.process(chunk)
}

func (c *Controller) lost(gen uint64, link transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	err := link.Err()
	if err == nil {
		err = &transport.TransportError{Op: "read", Device: c.conn.Device, Err: transport.ErrLinkLost}
	}
	link.Close()
	c.link = nil
	c.gen++
	c.framer.Reset()
	c.logger.Warn("controller: connection lost", "device", c.conn.Device, "error", err)
	c.endSession(ReasonConnectionLost)
	c.setState(ConnectionState{State: StateError, Device: c.conn.Device, Err: err})
}

// process runs one chunk through framer, decoder and reducers. mu is held.
func (c *Controller) process(chunk []byte) {
	c.stats.Chunks++
	lines := c.framer.Feed(string(chunk))
	if limit := c.opts.MaxPendingLine; limit > 0 && c.framer.Pending() > limit {
		c.logger.Warn("controller: partial line too long, discarding", "bytes", c.framer.Pending(), "limit", limit)
		c.framer.Reset()
		c.stats.Overflows++
	}
	for _, line := range lines {
		c.handleLine(line)
	}
}

func (c *Controller) handleLine(line string) {
	c.stats.Lines++

	msg, err := c.decoder.Decode(line)
	if err != nil {
		var de *logic.DecodeError
		if errors.As(err, &de) {
			switch de.Kind {
			case logic.NotAnObject:
				c.stats.NotAnObject++
			case logic.MalformedSyntax:
				c.stats.MalformedSyntax++
			case logic.UnknownType:
				c.stats.UnknownType++
			}
		}
		c.logger.Debug("controller: discarded line", "error", err, "line", clip(line, 120))
		return
	}

	now := c.opts.Now()
	switch m := msg.(type) {
	case logic.RealtimeTelemetry:
		c.stats.Telemetry++
		r := logic.ApplyTelemetry(c.snapshot, m, logic.TelemetryOptions{
			Mode:         c.opts.Mode,
			Zones:        c.opts.Zones,
			LocalElapsed: now.Sub(c.trainingStart),
		})
		c.snapshot = r.Snapshot
		c.report(r.Inconsistencies)
		c.publish(SnapshotUpdated{Snapshot: c.snapshot})
		for _, s := range r.Strikes {
			c.publish(StrikeObserved{Strike: s})
		}

	case logic.PunchEvent:
		c.stats.Punches++
		var issues []logic.Inconsistency
		c.log, issues = logic.AppendPunch(c.log, m, logic.SessionOptions{
			DerivedForceScale: c.opts.DerivedForceScale,
			Zones:             c.opts.Zones,
			ReceivedAt:        now,
		})
		c.report(issues)
		rec := c.log.Records[len(c.log.Records)-1]
		c.logger.Debug("controller: punch", "zone", rec.Zone, "force", rec.Force, "sequence", rec.SequenceNumber)
		c.publish(PunchLogged{
			Record:     rec,
			SessionID:  c.snapshot.SessionID,
			TotalCount: c.log.TotalCount,
			PeakForce:  c.log.PeakForce,
		})

	case logic.Status:
		c.stats.Status++
		c.logger.Info("controller: sensor status", "fields", m.Fields)
	}
}

func (c *Controller) report(issues []logic.Inconsistency) {
	for _, i := range issues {
		c.stats.Inconsistencies++
		c.logger.Warn("controller: protocol inconsistency", "detail", i.String())
	}
}

// beginSession replaces snapshot and log with fresh values. mu is held.
func (c *Controller) beginSession(now time.Time, open bool) {
	c.snapshot = logic.NewSnapshot(c.opts.NewSessionID(), c.opts.DefaultThreshold)
	c.log = logic.NewSessionLog(now)
	c.trainingStart = now
	c.sessionOpen = open
	c.stats.Sessions++
}

// endSession emits SessionEnded once per open session. mu is held.
func (c *Controller) endSession(reason string) {
	if !c.sessionOpen {
		return
	}
	c.sessionOpen = false
	c.publish(SessionEnded{
		Snapshot: c.snapshot,
		Log:      c.log.Clone(),
		Reason:   reason,
		EndedAt:  c.opts.Now(),
	})
}

func (c *Controller) setState(cs ConnectionState) {
	c.conn = cs
	if cs.Err != nil {
		c.logger.Info("controller: state changed", "state", cs.State, "device", cs.Device, "error", cs.Err)
	} else {
		c.logger.Info("controller: state changed", "state", cs.State, "device", cs.Device)
	}
	c.publish(StateChanged{State: cs})
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
