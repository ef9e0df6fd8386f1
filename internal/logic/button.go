package logic

import "time"

// ButtonState is the debounced level of the reset button.
type ButtonState string

const (
	ButtonPressed  ButtonState = "PRESSED"
	ButtonReleased ButtonState = "RELEASED"
)

// ButtonInput is a single sample of the reset button.
type ButtonInput struct {
	Pressed bool // already inverted from the active-low line
	Time    time.Time
}

// ButtonDetector turns raw samples into debounced presses.
// A level must hold for the debounce duration before it counts, and no
// press is reported until a baseline level has been established, so a
// button held at startup does not reset the session.
type ButtonDetector struct {
	debounce     time.Duration
	stable       ButtonState
	pending      ButtonState
	pendingSince time.Time
	baselined    bool
	presses      int
}

// NewButtonDetector creates a detector with the given debounce duration.
func NewButtonDetector(debounce time.Duration) *ButtonDetector {
	return &ButtonDetector{debounce: debounce}
}

// Process consumes a sample and reports whether it completed a press.
func (d *ButtonDetector) Process(in ButtonInput) bool {
	state := ButtonReleased
	if in.Pressed {
		state = ButtonPressed
	}

	if !d.baselined {
		if d.pending != state {
			d.pending = state
			d.pendingSince = in.Time
			return false
		}
		if in.Time.Sub(d.pendingSince) >= d.debounce {
			d.stable = state
			d.baselined = true
			d.pending = ""
		}
		return false
	}

	if state == d.stable {
		d.pending = ""
		return false
	}
	if d.pending != state {
		d.pending = state
		d.pendingSince = in.Time
		return false
	}
	if in.Time.Sub(d.pendingSince) < d.debounce {
		return false
	}

	d.stable = state
	d.pending = ""
	if state == ButtonPressed {
		d.presses++
		return true
	}
	return false
}

// IsBaselined returns whether the detector has established a baseline.
func (d *ButtonDetector) IsBaselined() bool {
	return d.baselined
}

// State returns the current stable state, empty before baseline.
func (d *ButtonDetector) State() ButtonState {
	return d.stable
}

// Presses returns the number of presses reported so far.
func (d *ButtonDetector) Presses() int {
	return d.presses
}
