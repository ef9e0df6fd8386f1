package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaud matches the sensor firmware's Serial.begin rate.
const DefaultBaud = 115200

// serialPortHints are substrings of port names likely to be the sensor,
// in preference order.
var serialPortHints = []string{"rfcomm", "ttyUSB", "ttyACM", "usbserial", "SLAB_USBtoUART"}

// SerialDialer opens the sensor as a serial port. Bluetooth Classic sensors
// appear as /dev/rfcommN once bound.
type SerialDialer struct {
	Baud   int
	Logger *slog.Logger
}

// Dial opens device, or the first likely port when device is empty or "auto".
// Opening an RFCOMM port blocks until the link is up, so Dial abandons the
// attempt when ctx ends and closes the port if it opens late.
func (d *SerialDialer) Dial(ctx context.Context, device string) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baud := d.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}

	name := device
	if name == "" || name == "auto" {
		ports, err := ListPorts()
		if err != nil {
			return nil, &TransportError{Op: "open", Err: err}
		}
		name = pickPort(ports)
		if name == "" {
			return nil, &TransportError{Op: "open", Err: ErrNoDevice}
		}
	}

	type result struct {
		port serial.Port
		err  error
	}
	opened := make(chan result, 1)
	go func() {
		p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
		opened <- result{p, err}
	}()

	var port serial.Port
	select {
	case r := <-opened:
		if r.err != nil {
			return nil, &TransportError{Op: "open", Device: name, Err: r.err}
		}
		port = r.port
	case <-ctx.Done():
		go func() {
			if r := <-opened; r.port != nil {
				r.port.Close()
			}
		}()
		return nil, &TransportError{Op: "open", Device: name, Err: ctx.Err()}
	}

	logger.Info("opened serial port", "port", name, "baud", baud)

	s := newStream(name, func(b []byte) error {
		_, err := port.Write(b)
		return err
	}, port.Close, logger)
	go s.writeLoop()
	go readSerial(port, s)
	return s, nil
}

func readSerial(port serial.Port, s *stream) {
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.deliver(buf[:n])
		}
		if err != nil {
			s.finish(&TransportError{Op: "read", Device: s.device, Err: err})
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

func pickPort(ports []string) string {
	for _, hint := range serialPortHints {
		for _, p := range ports {
			if strings.Contains(p, hint) {
				return p
			}
		}
	}
	return ""
}
