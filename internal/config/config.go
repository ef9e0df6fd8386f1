// Package config loads the daemon configuration from a single YAML or
// JSONC file. The file is named explicitly by flag or environment
// variable; there is no search path.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "BOXING_SENSOR_CONFIG"

// MinConnectTimeout is the shortest connect timeout Validate accepts.
// Bluetooth pairing and RFCOMM setup routinely take 10s or more.
const MinConnectTimeout = 15 * time.Second

// Duration decodes "20s"-style strings in both YAML and JSON.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return d.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return d.parse(s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full daemon configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Protocol  ProtocolConfig  `yaml:"protocol" json:"protocol"`
	Zones     logic.Zones     `yaml:"zones" json:"zones"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	GPIO      GPIOConfig      `yaml:"gpio" json:"gpio"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// TransportConfig selects and tunes the sensor link.
type TransportConfig struct {
	Kind           string   `yaml:"kind" json:"kind"` // "serial" or "ble"
	Device         string   `yaml:"device" json:"device"`
	Baud           int      `yaml:"baud" json:"baud"`
	ConnectTimeout Duration `yaml:"connect_timeout" json:"connect_timeout"`
	RetryDelay     Duration `yaml:"retry_delay" json:"retry_delay"` // 0 disables auto-reconnect
	NamePatterns   []string `yaml:"name_patterns" json:"name_patterns"`
}

// ProtocolConfig tunes decoding and reduction.
type ProtocolConfig struct {
	Vocabulary        logic.Vocabulary `yaml:"vocabulary" json:"vocabulary"`
	DetectionMode     string           `yaml:"detection_mode" json:"detection_mode"`
	DerivedForceScale float64          `yaml:"derived_force_scale" json:"derived_force_scale"`
	DefaultThreshold  float64          `yaml:"default_threshold" json:"default_threshold"`
	ResetCommand      string           `yaml:"reset_command" json:"reset_command"`
	CalibrateCommand  string           `yaml:"calibrate_command" json:"calibrate_command"`
	MaxPendingLine    int              `yaml:"max_pending_line" json:"max_pending_line"`
}

// MQTTConfig configures republishing. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker            string   `yaml:"broker" json:"broker"`
	ClientID          string   `yaml:"client_id" json:"client_id"`
	TopicPrefix       string   `yaml:"topic_prefix" json:"topic_prefix"`
	TelemetryInterval Duration `yaml:"telemetry_interval" json:"telemetry_interval"`
	Heartbeat         Duration `yaml:"heartbeat" json:"heartbeat"`
	BufferSize        int      `yaml:"buffer_size" json:"buffer_size"`
}

// HTTPConfig configures the status server. An empty addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// ArchiveConfig configures session archiving. An empty dir disables it.
type ArchiveConfig struct {
	Dir         string `yaml:"dir" json:"dir"`
	Compression string `yaml:"compression" json:"compression"` // "none", "zstd" or "lz4"
}

// GPIOConfig configures the physical reset button. A negative pin disables it.
type GPIOConfig struct {
	Chip     string   `yaml:"chip" json:"chip"`
	ResetPin int      `yaml:"reset_pin" json:"reset_pin"`
	Poll     Duration `yaml:"poll" json:"poll"`
	Debounce Duration `yaml:"debounce" json:"debounce"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			Kind:           "serial",
			Device:         "auto",
			Baud:           115200,
			ConnectTimeout: Duration(20 * time.Second),
			RetryDelay:     Duration(5 * time.Second),
		},
		Protocol: ProtocolConfig{
			Vocabulary:        logic.DefaultVocabulary(),
			DetectionMode:     string(logic.DetectEdge),
			DerivedForceScale: logic.DefaultDerivedForceScale,
			DefaultThreshold:  0.8,
			ResetCommand:      "RESET",
			CalibrateCommand:  "CALIBRATE",
			MaxPendingLine:    64 * 1024,
		},
		Zones: logic.DefaultZones(),
		MQTT: MQTTConfig{
			ClientID:          "boxing-sensor",
			TopicPrefix:       "boxing/sensor",
			TelemetryInterval: Duration(time.Second),
			Heartbeat:         Duration(15 * time.Minute),
			BufferSize:        1000,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
		GPIO: GPIOConfig{
			Chip:     "gpiochip0",
			ResetPin: -1,
			Poll:     Duration(20 * time.Millisecond),
			Debounce: Duration(50 * time.Millisecond),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. YAML is used for .yaml and .yml;
// .json and .jsonc are read as JSON with comments and trailing commas.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve returns flagPath if set, else the EnvPath variable.
func Resolve(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvPath)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case "serial", "ble":
	default:
		errs = append(errs, fmt.Errorf("transport.kind: must be serial or ble, got %q", c.Transport.Kind))
	}
	if c.Transport.Kind == "serial" && c.Transport.Baud <= 0 {
		errs = append(errs, fmt.Errorf("transport.baud: must be positive, got %d", c.Transport.Baud))
	}
	if c.Transport.ConnectTimeout.Std() < MinConnectTimeout {
		errs = append(errs, fmt.Errorf("transport.connect_timeout: must be at least %v, got %v", MinConnectTimeout, c.Transport.ConnectTimeout.Std()))
	}
	if c.Transport.RetryDelay < 0 {
		errs = append(errs, errors.New("transport.retry_delay: must not be negative"))
	}

	switch logic.DetectionMode(c.Protocol.DetectionMode) {
	case logic.DetectEdge, logic.DetectLevel:
	default:
		errs = append(errs, fmt.Errorf("protocol.detection_mode: must be edge or level, got %q", c.Protocol.DetectionMode))
	}
	if c.Protocol.DerivedForceScale <= 0 {
		errs = append(errs, fmt.Errorf("protocol.derived_force_scale: must be positive, got %v", c.Protocol.DerivedForceScale))
	}
	if c.Protocol.DefaultThreshold <= 0 {
		errs = append(errs, fmt.Errorf("protocol.default_threshold: must be positive, got %v", c.Protocol.DefaultThreshold))
	}
	if strings.TrimSpace(c.Protocol.ResetCommand) == "" || strings.ContainsAny(c.Protocol.ResetCommand, "\r\n") {
		errs = append(errs, fmt.Errorf("protocol.reset_command: must be a single non-empty token, got %q", c.Protocol.ResetCommand))
	}
	if strings.TrimSpace(c.Protocol.CalibrateCommand) == "" || strings.ContainsAny(c.Protocol.CalibrateCommand, "\r\n") {
		errs = append(errs, fmt.Errorf("protocol.calibrate_command: must be a single non-empty token, got %q", c.Protocol.CalibrateCommand))
	}

	if c.Zones.Channel1 == "" || c.Zones.Channel2 == "" {
		errs = append(errs, errors.New("zones: both channels need a label"))
	}

	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id: required when broker is set"))
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, errors.New("mqtt.buffer_size: must not be negative"))
	}

	switch c.Archive.Compression {
	case "none", "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("archive.compression: must be none, zstd or lz4, got %q", c.Archive.Compression))
	}

	if c.GPIO.ResetPin >= 0 && c.GPIO.Poll <= 0 {
		errs = append(errs, errors.New("gpio.poll: must be positive when reset_pin is set"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
