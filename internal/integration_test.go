package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/boxing-sensor/internal/archive"
	"github.com/sweeney/boxing-sensor/internal/config"
	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/logic"
	"github.com/sweeney/boxing-sensor/internal/mqtt"
	"github.com/sweeney/boxing-sensor/internal/status"
	"github.com/sweeney/boxing-sensor/internal/transport"
)

const device = "/dev/rfcomm0"

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rig wires the pieces the daemon wires: a controller on a fake link,
// the MQTT bridge on a fake publisher, an archive store and a tracker.
type rig struct {
	dialer  *transport.FakeDialer
	ctl     *controller.Controller
	notes   <-chan controller.Notification
	pub     *mqtt.FakePublisher
	bridge  *mqtt.Bridge
	store   *archive.Store
	tracker *status.Tracker
	archive []string
}

func newRig(t *testing.T, opts controller.Options) *rig {
	t.Helper()
	opts.Logger = quiet()
	opts.Now = func() time.Time { return startTime }

	dialer := transport.NewFakeDialer()
	ctl := controller.New(dialer, opts)
	notes, cancel := ctl.Subscribe(256)
	t.Cleanup(func() {
		ctl.Disconnect()
		cancel()
	})

	store, err := archive.NewStore(t.TempDir(), archive.CompressionZstd, quiet())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	return &rig{
		dialer:  dialer,
		ctl:     ctl,
		notes:   notes,
		pub:     pub,
		bridge:  mqtt.NewBridge(pub, 0, quiet()),
		store:   store,
		tracker: status.NewTracker(startTime, status.Config{Device: device, Zones: opts.Zones}, ctl),
	}
}

func (r *rig) connect(t *testing.T) *transport.FakeConn {
	t.Helper()
	if err := r.ctl.Connect(context.Background(), device); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return r.dialer.Last()
}

// until handles notifications the way the daemon loop does and returns
// once done reports true for one of them.
func (r *rig) until(t *testing.T, what string, done func(controller.Notification) bool) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-r.notes:
			r.bridge.Handle(n, startTime)
			if ended, ok := n.(controller.SessionEnded); ok {
				rec := archive.NewRecord(ended.Snapshot, ended.Log, ended.Reason, ended.EndedAt)
				if !rec.Empty() {
					path, err := r.store.Save(rec)
					if err != nil {
						t.Fatalf("Save: %v", err)
					}
					r.archive = append(r.archive, path)
					r.tracker.SetLastArchive(path)
				}
			}
			if done(n) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func punchNumber(seq int) func(controller.Notification) bool {
	return func(n controller.Notification) bool {
		p, ok := n.(controller.PunchLogged)
		return ok && p.Record.SequenceNumber == seq
	}
}

func sessionEnded(n controller.Notification) bool {
	_, ok := n.(controller.SessionEnded)
	return ok
}

func stateIs(want controller.State) func(controller.Notification) bool {
	return func(n controller.Notification) bool {
		sc, ok := n.(controller.StateChanged)
		return ok && sc.State.State == want
	}
}

// TestIntegrationStreamToMQTT pushes split chunks through the link and
// checks what reaches the publisher.
func TestIntegrationStreamToMQTT(t *testing.T) {
	r := newRig(t, controller.Options{})
	conn := r.connect(t)

	chunks := []string{
		`{"type":"realtime","sensor1":{"current":1.2,"max":2.6,"pun`,
		`ches":1,"detected":true},"sensor2":{"current":0.1,"max":0.4,"punches":0},"total_punches":1,"training_time":5000}` + "\n",
		`{"type":"punch_event","sensor":1,"force":2.6,"punch_number":1,"bpm":96}` + "\n" + `{"type":"punch_ev`,
		`ent","sensor":2,"force":1.0,"punch_number":2}` + "\n",
	}
	for _, c := range chunks {
		if !conn.Push(c) {
			t.Fatal("link closed early")
		}
	}
	r.until(t, "second punch", punchNumber(2))

	payloads := r.pub.PunchPayloads()
	if len(payloads) != 2 {
		t.Fatalf("punch payloads = %d, want 2", len(payloads))
	}
	var first mqtt.PunchPayload
	if err := json.Unmarshal(payloads[0], &first); err != nil {
		t.Fatalf("invalid punch JSON: %v", err)
	}
	p := first.Punch
	if p.Sequence != 1 || p.Channel != 1 || p.Zone != "upper" || p.Cadence == nil || *p.Cadence != 96 {
		t.Errorf("punch 1 = %+v", p)
	}
	if p.SessionID == "" {
		t.Error("punch missing session id")
	}

	var second mqtt.PunchPayload
	if err := json.Unmarshal(payloads[1], &second); err != nil {
		t.Fatal(err)
	}
	if second.Punch.Zone != "lower" || second.Punch.Cadence != nil || second.Punch.TotalCount != 2 || second.Punch.PeakForce != 2.6 {
		t.Errorf("punch 2 = %+v", second.Punch)
	}

	tel := r.pub.Telemetry()
	if len(tel) == 0 {
		t.Fatal("no telemetry published")
	}
	if want := logic.NewSnapshot(tel[0].SessionID, tel[0].DetectionThreshold); tel[0] != want {
		t.Errorf("connect snapshot = %+v, want zero readings", tel[0])
	}
	var live *logic.TelemetrySnapshot
	for i := range tel {
		if tel[i].Channels[0].Current == 1.2 {
			live = &tel[i]
			break
		}
	}
	if live == nil {
		t.Fatalf("telemetry reading not published: %+v", tel)
	}
	if got := live.Channels[0].Maximum; got != 2.6 {
		t.Errorf("channel 1 max = %v", got)
	}
	if live.TotalPunches != 1 || live.TrainingElapsed != 5*time.Second {
		t.Errorf("telemetry = %+v", *live)
	}

	events := r.pub.SystemEvents()
	if len(events) == 0 || events[0].Event != mqtt.EventConnected || events[0].Device != device {
		t.Errorf("system events = %+v", events)
	}
}

// TestIntegrationConnectionLossArchives drops the link mid-session and
// checks the archive, the status JSON and the published events.
func TestIntegrationConnectionLossArchives(t *testing.T) {
	r := newRig(t, controller.Options{})
	conn := r.connect(t)

	conn.Push(`{"type":"realtime","sensor1":{"current":0,"max":3.1,"punches":2},"sensor2":{"current":0,"max":1.5,"punches":1},"total_punches":3,"training_time":61000}` + "\n")
	conn.Push(`{"type":"punch_event","sensor":1,"force":3.1,"punch_number":1}` + "\n")
	r.until(t, "punch", punchNumber(1))

	conn.Drop(errors.New("rfcomm hangup"))
	r.until(t, "error state", stateIs(controller.StateError))

	if st := r.ctl.State(); st.State != controller.StateError {
		t.Errorf("state = %q, want ERROR", st.State)
	}

	if len(r.archive) != 1 {
		t.Fatalf("archived %v", r.archive)
	}
	rec, err := archive.Load(r.archive[0])
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Reason != controller.ReasonConnectionLost || rec.TrainingMS != 61000 || len(rec.Punches) != 1 {
		t.Errorf("record = %+v", rec)
	}
	if filepath.Dir(r.archive[0]) != r.store.Dir() {
		t.Errorf("archive path %q outside store", r.archive[0])
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(r.tracker.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	s := sj.Status
	if s.Connection.State != "ERROR" || s.Connection.Error == "" {
		t.Errorf("connection = %+v", s.Connection)
	}
	// The last session stays visible after the loss.
	if s.Session.TotalPunches != 3 || s.Session.Logged != 1 {
		t.Errorf("session = %+v", s.Session)
	}
	if s.LastArchive != r.archive[0] {
		t.Errorf("last archive = %q", s.LastArchive)
	}

	var ev []string
	for _, e := range r.pub.SystemEvents() {
		ev = append(ev, e.Event)
	}
	want := []string{mqtt.EventConnected, mqtt.EventSessionEnded, mqtt.EventDisconnected}
	if len(ev) != len(want) {
		t.Fatalf("events = %v, want %v", ev, want)
	}
	for i := range want {
		if ev[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev[i], want[i])
		}
	}
}

// TestIntegrationResetStartsNewSession checks the session boundary a reset draws.
func TestIntegrationResetStartsNewSession(t *testing.T) {
	r := newRig(t, controller.Options{})
	conn := r.connect(t)

	conn.Push(`{"type":"punch_event","sensor":2,"force":1.4,"punch_number":1}` + "\n")
	r.until(t, "punch", punchNumber(1))
	before := r.ctl.View().Snapshot.SessionID

	if err := r.ctl.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	r.until(t, "session end", sessionEnded)

	after := r.ctl.View()
	if after.Snapshot.SessionID == before {
		t.Error("reset kept the session id")
	}
	if len(after.Log.Records) != 0 || after.Snapshot.TotalPunches != 0 {
		t.Errorf("state after reset = %+v", after.Snapshot)
	}
	if sent := conn.Sent(); len(sent) != 1 || sent[0] != "RESET" {
		t.Errorf("sent = %v", sent)
	}

	rec, err := archive.Load(r.archive[0])
	if err != nil {
		t.Fatal(err)
	}
	if rec.SessionID != before || rec.Reason != controller.ReasonReset {
		t.Errorf("record = %+v", rec)
	}

	var ended *mqtt.SystemEvent
	events := r.pub.SystemEvents()
	for i := range events {
		if events[i].Event == mqtt.EventSessionEnded {
			ended = &events[i]
		}
	}
	if ended == nil || ended.SessionID != before || ended.Reason != controller.ReasonReset {
		t.Errorf("session ended event = %+v", ended)
	}

	// The next punch lands in the new session.
	conn.Push(`{"type":"punch_event","sensor":1,"force":2.0,"punch_number":1}` + "\n")
	r.until(t, "punch after reset", punchNumber(1))
	if punches := r.pub.Punches(); punches[len(punches)-1].SessionID != after.Snapshot.SessionID {
		t.Errorf("punch session = %q, want %q", punches[len(punches)-1].SessionID, after.Snapshot.SessionID)
	}
}

// TestIntegrationRejectedLinesCounted mixes bad lines into the stream.
func TestIntegrationRejectedLinesCounted(t *testing.T) {
	r := newRig(t, controller.Options{})
	conn := r.connect(t)

	conn.Push("hello\n")
	conn.Push(`{"type":"realtime",` + "\n")
	conn.Push(`{"type":"firmware_banner"}` + "\n")
	conn.Push(`{"type":"punch_event","sensor":1,"force":2.2,"punch_number":1}` + "\n")
	r.until(t, "punch", punchNumber(1))

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(r.tracker.Snapshot()), &sj); err != nil {
		t.Fatal(err)
	}
	c := sj.Status.Counters
	if c.Lines != 4 || c.DecodeErrors != 3 || c.Punches != 1 {
		t.Errorf("counters = %+v", c)
	}
	if st := r.ctl.State(); st.State != controller.StateStreaming {
		t.Errorf("bad lines changed state to %q", st.State)
	}
}

// TestIntegrationConfigZones loads zone labels from a config file and
// checks they reach the punch log and the published payloads.
func TestIntegrationConfigZones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.jsonc")
	body := `{
  // Head and body bag
  "zones": {"channel1": "head", "channel2": "body",},
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := newRig(t, controller.Options{Zones: cfg.Zones})
	conn := r.connect(t)
	conn.Push(`{"type":"punch_event","sensor":2,"force":1.1,"punch_number":1}` + "\n")
	r.until(t, "punch", punchNumber(1))

	if z := r.ctl.View().Log.Records[0].Zone; z != "body" {
		t.Errorf("record zone = %q, want body", z)
	}
	var pp mqtt.PunchPayload
	if err := json.Unmarshal(r.pub.PunchPayloads()[0], &pp); err != nil {
		t.Fatal(err)
	}
	if pp.Punch.Zone != "body" {
		t.Errorf("payload zone = %q", pp.Punch.Zone)
	}
}
