package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// DefaultNamePatterns match the advertised names sensor firmware uses.
var DefaultNamePatterns = []string{"boxingsensor", "boxing", "esp32"}

// BLEDialer connects to a sensor exposing the Nordic UART service.
// Inbound data arrives as TX notifications; commands are written to RX.
type BLEDialer struct {
	// Adapter defaults to bluetooth.DefaultAdapter.
	Adapter *bluetooth.Adapter
	// NamePatterns are matched case-insensitively against the advertised
	// name when no explicit device is requested.
	NamePatterns []string
	Logger       *slog.Logger

	handlerOnce sync.Once
	mu          sync.Mutex
	active      *stream
	activeAddr  string
}

func (d *BLEDialer) adapter() *bluetooth.Adapter {
	if d.Adapter != nil {
		return d.Adapter
	}
	return bluetooth.DefaultAdapter
}

func (d *BLEDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dial scans for device (a MAC address or name fragment; empty or "auto"
// uses NamePatterns), connects, and subscribes to UART notifications.
func (d *BLEDialer) Dial(ctx context.Context, device string) (Conn, error) {
	adapter := d.adapter()
	logger := d.logger()

	// The connect handler must be installed before Enable.
	d.handlerOnce.Do(func() {
		adapter.SetConnectHandler(d.onConnectChange)
	})
	if err := adapter.Enable(); err != nil {
		return nil, &TransportError{Op: "enable", Device: device, Err: err}
	}

	result, err := d.scan(ctx, adapter, device)
	if err != nil {
		return nil, err
	}
	addr := result.Address.String()
	logger.Info("found sensor", "name", result.LocalName(), "address", addr, "rssi", result.RSSI)

	type connected struct {
		dev *bluetooth.Device
		err error
	}
	done := make(chan connected, 1)
	go func() {
		dev, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
		done <- connected{dev, err}
	}()

	var dev *bluetooth.Device
	select {
	case c := <-done:
		if c.err != nil {
			return nil, &TransportError{Op: "connect", Device: addr, Err: c.err}
		}
		dev = c.dev
	case <-ctx.Done():
		go func() {
			if c := <-done; c.dev != nil {
				c.dev.Disconnect()
			}
		}()
		return nil, &TransportError{Op: "connect", Device: addr, Err: ctx.Err()}
	}

	rx, tx, err := discoverUART(dev)
	if err != nil {
		dev.Disconnect()
		return nil, &TransportError{Op: "connect", Device: addr, Err: err}
	}

	s := newStream(addr, func(b []byte) error {
		_, err := rx.WriteWithoutResponse(b)
		return err
	}, func() error {
		d.clearActive(addr)
		return dev.Disconnect()
	}, logger)

	if err := tx.EnableNotifications(s.deliver); err != nil {
		dev.Disconnect()
		return nil, &TransportError{Op: "connect", Device: addr, Err: err}
	}

	d.mu.Lock()
	d.active = s
	d.activeAddr = addr
	d.mu.Unlock()

	go s.writeLoop()
	logger.Info("connected to sensor", "address", addr)
	return s, nil
}

func (d *BLEDialer) scan(ctx context.Context, adapter *bluetooth.Adapter, device string) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !d.matches(r, device) {
				return
			}
			select {
			case found <- r:
			default:
			}
			a.StopScan()
		})
	}()

	select {
	case r := <-found:
		return r, nil
	case err := <-scanDone:
		select {
		case r := <-found:
			return r, nil
		default:
		}
		if err == nil {
			err = ErrNoDevice
		}
		return bluetooth.ScanResult{}, &TransportError{Op: "scan", Device: device, Err: err}
	case <-ctx.Done():
		adapter.StopScan()
		return bluetooth.ScanResult{}, &TransportError{Op: "scan", Device: device, Err: ctx.Err()}
	}
}

func (d *BLEDialer) matches(r bluetooth.ScanResult, device string) bool {
	name := strings.ToLower(r.LocalName())
	if device != "" && device != "auto" {
		if strings.EqualFold(r.Address.String(), device) {
			return true
		}
		return name != "" && strings.Contains(name, strings.ToLower(device))
	}
	patterns := d.NamePatterns
	if len(patterns) == 0 {
		patterns = DefaultNamePatterns
	}
	for _, p := range patterns {
		if name != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (d *BLEDialer) onConnectChange(addr bluetooth.Address, connected bool) {
	if connected {
		return
	}
	d.mu.Lock()
	s := d.active
	match := s != nil && strings.EqualFold(d.activeAddr, addr.String())
	d.mu.Unlock()
	if match {
		d.logger().Warn("sensor disconnected", "address", addr.String())
		s.finish(&TransportError{Op: "read", Device: s.device, Err: ErrLinkLost})
	}
}

func (d *BLEDialer) clearActive(addr string) {
	d.mu.Lock()
	if d.activeAddr == addr {
		d.active = nil
		d.activeAddr = ""
	}
	d.mu.Unlock()
}

func discoverUART(dev *bluetooth.Device) (rx, tx bluetooth.DeviceCharacteristic, err error) {
	services, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDNordicUART})
	if err != nil {
		return rx, tx, err
	}
	if len(services) == 0 {
		return rx, tx, ErrNoDevice
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		bluetooth.CharacteristicUUIDUARTRX,
		bluetooth.CharacteristicUUIDUARTTX,
	})
	if err != nil {
		return rx, tx, err
	}
	if len(chars) < 2 {
		return rx, tx, ErrNoDevice
	}
	return chars[0], chars[1], nil
}
