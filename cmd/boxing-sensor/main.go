// Command boxing-sensor connects to a two-channel boxing sensor, keeps the
// live session, and republishes it over HTTP and MQTT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/sweeney/boxing-sensor/internal/archive"
	"github.com/sweeney/boxing-sensor/internal/config"
	"github.com/sweeney/boxing-sensor/internal/controller"
	"github.com/sweeney/boxing-sensor/internal/gpio"
	"github.com/sweeney/boxing-sensor/internal/logic"
	"github.com/sweeney/boxing-sensor/internal/mqtt"
	"github.com/sweeney/boxing-sensor/internal/status"
	"github.com/sweeney/boxing-sensor/internal/transport"
	"github.com/sweeney/boxing-sensor/internal/web"
)

// idleTick drives telemetry flushing and heartbeats when no button is polled.
const idleTick = 100 * time.Millisecond

// notificationBuffer is sized for bursts of telemetry between loop iterations.
const notificationBuffer = 256

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "boxing-sensor: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	noConnect  bool
	listPorts  bool
	showLast   bool
}

// parseFlags reads args and applies explicit flag values over the loaded config.
func parseFlags(args []string, stderr io.Writer) (options, config.Config, error) {
	fs := pflag.NewFlagSet("boxing-sensor", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (YAML or JSONC); defaults to $"+config.EnvPath)
	device := fs.String("device", "", `sensor device, MAC address or "auto"`)
	kind := fs.String("transport", "", "transport kind: serial or ble")
	broker := fs.String("broker", "", "MQTT broker address (empty disables)")
	httpAddr := fs.String("http", "", "HTTP status address (empty disables)")
	archiveDir := fs.String("archive-dir", "", "directory for finished session archives")
	level := fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&opts.noConnect, "no-connect", false, "do not connect at startup")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "print candidate serial ports and exit")
	fs.BoolVar(&opts.showLast, "show-last", false, "print the most recent archived session and exit")

	if err := fs.Parse(args); err != nil {
		return opts, config.Config{}, err
	}

	cfg := config.Default()
	if path := config.Resolve(opts.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return opts, cfg, err
		}
		cfg = loaded
	}

	if fs.Changed("device") {
		cfg.Transport.Device = *device
	}
	if fs.Changed("transport") {
		cfg.Transport.Kind = *kind
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = *broker
	}
	if fs.Changed("http") {
		cfg.HTTP.Addr = *httpAddr
	}
	if fs.Changed("archive-dir") {
		cfg.Archive.Dir = *archiveDir
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *level
	}
	if err := cfg.Validate(); err != nil {
		return opts, cfg, fmt.Errorf("config: %w", err)
	}
	return opts, cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

func newDialer(cfg config.TransportConfig, logger *slog.Logger) transport.Dialer {
	if cfg.Kind == "ble" {
		return &transport.BLEDialer{Adapter: bluetooth.DefaultAdapter, NamePatterns: cfg.NamePatterns, Logger: logger}
	}
	return &transport.SerialDialer{Baud: cfg.Baud, Logger: logger}
}

func controllerOptions(cfg config.Config, logger *slog.Logger) controller.Options {
	return controller.Options{
		ConnectTimeout:    cfg.Transport.ConnectTimeout.Std(),
		DefaultThreshold:  cfg.Protocol.DefaultThreshold,
		DerivedForceScale: cfg.Protocol.DerivedForceScale,
		Mode:              logic.DetectionMode(cfg.Protocol.DetectionMode),
		Zones:             cfg.Zones,
		Vocabulary:        cfg.Protocol.Vocabulary,
		ResetCommand:      cfg.Protocol.ResetCommand,
		CalibrateCommand:  cfg.Protocol.CalibrateCommand,
		MaxPendingLine:    cfg.Protocol.MaxPendingLine,
		Logger:            logger,
	}
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Transport:           cfg.Transport.Kind,
		Device:              cfg.Transport.Device,
		ConnectTimeoutMs:    cfg.Transport.ConnectTimeout.Std().Milliseconds(),
		RetryDelayMs:        cfg.Transport.RetryDelay.Std().Milliseconds(),
		TelemetryIntervalMs: cfg.MQTT.TelemetryInterval.Std().Milliseconds(),
		HeartbeatMs:         cfg.MQTT.Heartbeat.Std().Milliseconds(),
		Broker:              cfg.MQTT.Broker,
		HTTPPort:            cfg.HTTP.Addr,
		ArchiveDir:          cfg.Archive.Dir,
		DetectionMode:       cfg.Protocol.DetectionMode,
		Zones:               cfg.Zones,
	}
}

func run(args []string, stdout io.Writer) error {
	opts, cfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if opts.listPorts {
		return listPorts(stdout)
	}
	if opts.showLast {
		return showLast(stdout, cfg.Archive.Dir)
	}

	ctl := controller.New(newDialer(cfg.Transport, logger), controllerOptions(cfg, logger))
	notes, unsubscribe := ctl.Subscribe(notificationBuffer)
	defer unsubscribe()

	tracker := status.NewTracker(time.Now(), statusConfig(cfg), ctl)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := &daemon{
		ctl:        ctl,
		notes:      notes,
		tracker:    tracker,
		device:     cfg.Transport.Device,
		connect:    !opts.noConnect,
		retryDelay: cfg.Transport.RetryDelay.Std(),
		heartbeat:  cfg.MQTT.Heartbeat.Std(),
		now:        time.Now,
		logger:     logger,
	}

	if cfg.MQTT.Broker != "" {
		pub := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			BufferSize: cfg.MQTT.BufferSize,
			Logger:     logger,
		})
		defer pub.Close()
		d.publisher = pub
		d.mqttStatus = pub
		d.bridge = mqtt.NewBridge(pub, cfg.MQTT.TelemetryInterval.Std(), logger)
	}

	if cfg.Archive.Dir != "" {
		c, err := archive.ParseCompression(cfg.Archive.Compression)
		if err != nil {
			return err
		}
		store, err := archive.NewStore(cfg.Archive.Dir, c, logger)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		d.store = store
	}

	tickEvery := idleTick
	if cfg.GPIO.ResetPin >= 0 {
		reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.ResetPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		d.button = reader
		d.detector = logic.NewButtonDetector(cfg.GPIO.Debounce.Std())
		tickEvery = cfg.GPIO.Poll.Std()
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctl, cfg.Transport.Device, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http: server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http: status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"transport", cfg.Transport.Kind,
		"device", cfg.Transport.Device,
		"broker", cfg.MQTT.Broker,
		"archive", cfg.Archive.Dir,
		"heartbeat", cfg.MQTT.Heartbeat.Std())

	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ticker.C, sigCh)
}

func listPorts(w io.Writer) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func showLast(w io.Writer, dir string) error {
	if dir == "" {
		return errors.New("show-last: no archive directory configured")
	}
	path, err := archive.Latest(dir)
	if err != nil {
		return err
	}
	rec, err := archive.Load(path)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	fmt.Fprintf(w, "%s\n", out)
	return nil
}
