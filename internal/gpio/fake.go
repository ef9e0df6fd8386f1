package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted button samples.
// Each call to Read consumes the next sample; once exhausted the last
// sample repeats.
type FakeReader struct {
	mu      sync.Mutex
	samples []bool
	index   int
	atEnd   bool // the last sample has been returned at least once
	closed  bool
	err     error
}

// NewFakeReader creates a FakeReader with the given pressed samples.
func NewFakeReader(samples ...bool) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}
	if len(f.samples) == 0 {
		return false, errors.New("no samples configured")
	}

	v := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	} else {
		f.atEnd = true
	}
	return v, nil
}

// Append adds samples to the end of the script.
func (f *FakeReader) Append(samples ...bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(samples) == 0 {
		return
	}
	// Resume with the new samples rather than repeating the old last one.
	if f.atEnd {
		f.index++
		f.atEnd = false
	}
	f.samples = append(f.samples, samples...)
}

// SetError makes subsequent Reads fail with err.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
