package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/boxing-sensor/internal/archive"
	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/gpio"
	"github.com/sweeney/boxing-sensor/internal/logic"
	"github.com/sweeney/boxing-sensor/internal/mqtt"
	"github.com/sweeney/boxing-sensor/internal/status"
)

// drainTimeout bounds the wait for the final session at shutdown.
const drainTimeout = 2 * time.Second

// daemon owns everything the main loop touches. Optional parts are nil
// when disabled.
type daemon struct {
	ctl     *controller.Controller
	notes   <-chan controller.Notification
	tracker *status.Tracker

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	bridge     *mqtt.Bridge
	store      *archive.Store
	button     gpio.Reader
	detector   *logic.ButtonDetector

	device     string
	connect    bool          // dial at startup
	retryDelay time.Duration // 0 disables reconnect after a failure
	heartbeat  time.Duration // 0 disables heartbeats
	now        func() time.Time
	logger     *slog.Logger
}

func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := d.now()
	d.publishStatus(mqtt.EventStartup, "")

	if d.connect {
		go d.dial()
	}

	var retry <-chan time.Time
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.logger.Info("shutting down", "signal", name)
			if err := d.ctl.Disconnect(); err != nil {
				d.logger.Warn("disconnect on shutdown", "error", err)
			}
			d.drain()
			d.publishStatus(mqtt.EventShutdown, name)
			return nil

		case n, ok := <-d.notes:
			if !ok {
				return nil
			}
			if sc, isState := n.(controller.StateChanged); isState && sc.State.State == controller.StateError && d.retryDelay > 0 {
				retry = time.After(d.retryDelay)
			}
			d.handle(n)

		case <-retry:
			retry = nil
			if d.ctl.State().State == controller.StateError {
				d.logger.Info("reconnecting", "device", d.device)
				go d.dial()
			}

		case <-tick:
			t := d.now()
			if d.bridge != nil {
				d.bridge.Flush(t)
			}
			d.pollButton(t)
			d.refreshMQTT()

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				d.publishStatus(mqtt.EventHeartbeat, "")
			}
		}
	}
}

// dial runs one connect attempt. Failures surface as a StateChanged to ERROR.
func (d *daemon) dial() {
	if err := d.ctl.Connect(context.Background(), d.device); err != nil {
		d.logger.Warn("connect failed", "device", d.device, "error", err)
	}
}

func (d *daemon) handle(n controller.Notification) {
	if d.bridge != nil {
		d.bridge.Handle(n, d.now())
	}
	if ended, ok := n.(controller.SessionEnded); ok {
		d.archiveSession(ended)
	}
}

// drain handles notifications up to the DISCONNECTED state a shutdown
// disconnect produces, which follows its SessionEnded.
func (d *daemon) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case n, ok := <-d.notes:
			if !ok {
				return
			}
			d.handle(n)
			if sc, isState := n.(controller.StateChanged); isState && sc.State.State == controller.StateDisconnected {
				return
			}
		case <-deadline:
			d.logger.Warn("shutdown: notifications not drained", "timeout", drainTimeout)
			return
		}
	}
}

func (d *daemon) archiveSession(ended controller.SessionEnded) {
	if d.store == nil {
		return
	}
	rec := archive.NewRecord(ended.Snapshot, ended.Log, ended.Reason, ended.EndedAt)
	if rec.Empty() {
		d.logger.Debug("archive: skipping empty session", "session", rec.SessionID)
		return
	}
	path, err := d.store.Save(rec)
	if err != nil {
		d.logger.Error("archive: save failed", "session", rec.SessionID, "error", err)
		return
	}
	d.tracker.SetLastArchive(path)
}

func (d *daemon) pollButton(t time.Time) {
	if d.button == nil || d.detector == nil {
		return
	}
	pressed, err := d.button.Read()
	if err != nil {
		d.logger.Warn("gpio: read failed", "error", err)
		return
	}
	if !d.detector.Process(logic.ButtonInput{Pressed: pressed, Time: t}) {
		return
	}
	d.logger.Info("gpio: reset button pressed")
	if err := d.ctl.Reset(); err != nil {
		d.logger.Info("gpio: reset ignored", "error", err)
	}
}

func (d *daemon) refreshMQTT() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishStatus(event, reason string) {
	if d.publisher == nil {
		return
	}
	d.refreshMQTT()
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   event != mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.logger.Warn("mqtt: system publish failed", "event", event, "error", err)
		return
	}
	d.logger.Info("mqtt: published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
