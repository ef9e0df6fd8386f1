package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "boxing.yaml", `
transport:
  kind: ble
  device: AA:BB:CC:DD:EE:FF
  connect_timeout: 30s
zones:
  channel1: head
  channel2: body
protocol:
  detection_mode: level
  vocabulary:
    telemetry_tags: [live]
mqtt:
  broker: tcp://localhost:1883
  telemetry_interval: 250ms
archive:
  dir: /var/lib/boxing
  compression: lz4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Transport.Kind != "ble" || cfg.Transport.Device != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.ConnectTimeout.Std() != 30*time.Second {
		t.Errorf("connect_timeout = %v, want 30s", cfg.Transport.ConnectTimeout.Std())
	}
	if cfg.Transport.Baud != 115200 {
		t.Errorf("baud default lost: %d", cfg.Transport.Baud)
	}
	if cfg.Zones.Channel1 != "head" || cfg.Zones.Channel2 != "body" {
		t.Errorf("zones = %+v", cfg.Zones)
	}
	if cfg.Protocol.DetectionMode != "level" {
		t.Errorf("detection_mode = %q", cfg.Protocol.DetectionMode)
	}
	if got := cfg.Protocol.Vocabulary.TelemetryTags; len(got) != 1 || got[0] != "live" {
		t.Errorf("telemetry_tags = %v", got)
	}
	if cfg.MQTT.TelemetryInterval.Std() != 250*time.Millisecond {
		t.Errorf("telemetry_interval = %v", cfg.MQTT.TelemetryInterval.Std())
	}
	if cfg.MQTT.ClientID != "boxing-sensor" {
		t.Errorf("client_id default lost: %q", cfg.MQTT.ClientID)
	}
	if cfg.Archive.Compression != "lz4" {
		t.Errorf("compression = %q", cfg.Archive.Compression)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeFile(t, "boxing.jsonc", `{
	// the USB adapter on the bench
	"transport": {"kind": "serial", "device": "/dev/ttyUSB0", "baud": 9600,},
	"gpio": {"reset_pin": 17, "debounce": "80ms"},
	/* quieter */
	"log": {"level": "warn", "format": "json"},
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Device != "/dev/ttyUSB0" || cfg.Transport.Baud != 9600 {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.GPIO.ResetPin != 17 || cfg.GPIO.Debounce.Std() != 80*time.Millisecond {
		t.Errorf("gpio = %+v", cfg.GPIO)
	}
	if cfg.GPIO.Chip != "gpiochip0" {
		t.Errorf("gpio chip default lost: %q", cfg.GPIO.Chip)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"bad yaml", "c.yaml", "transport: [", "parse config"},
		{"bad duration", "c.yaml", "transport:\n  connect_timeout: soon\n", "duration"},
		{"short timeout", "c.yaml", "transport:\n  connect_timeout: 5s\n", "transport.connect_timeout"},
		{"unknown kind", "c.json", `{"transport": {"kind": "usb"}}`, "transport.kind"},
		{"unknown extension", "c.toml", "", "unsupported extension"},
		{"bad compression", "c.yaml", "archive:\n  compression: gzip\n", "archive.compression"},
		{"bad mode", "c.yaml", "protocol:\n  detection_mode: pulse\n", "protocol.detection_mode"},
		{"multiline command", "c.json", `{"protocol": {"reset_command": "RE\nSET"}}`, "protocol.reset_command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "carrier-pigeon"
	cfg.Protocol.DerivedForceScale = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"transport.kind", "protocol.derived_force_scale", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvPath, "/etc/boxing-sensor.yaml")

	if got := Resolve("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := Resolve(""); got != "/etc/boxing-sensor.yaml" {
		t.Errorf("env fallback = %q", got)
	}
}

func TestDurationMarshal(t *testing.T) {
	b, err := Duration(1500 * time.Millisecond).MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1.5s"` {
		t.Errorf("MarshalJSON = %s", b)
	}
}
