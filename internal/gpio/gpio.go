// Package gpio reads the physical session reset button with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the reset button.
type Reader interface {
	// Read reports whether the button is held down. The line is active
	// low with a pull-up, so a pressed button reads as true.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"
