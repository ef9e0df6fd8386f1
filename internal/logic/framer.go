package logic

import "bytes"

// Framer accumulates text fragments and extracts newline-terminated lines.
// Not safe for concurrent use; each connection owns one.
type Framer struct {
	buf []byte
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends chunk and returns every line completed by it, in arrival
// order, without the terminating newline. The trailing fragment after the
// last newline is held until a later chunk completes it.
func (f *Framer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(f.buf[start:start+i]))
		start += i + 1
	}

	if start > 0 {
		// Shift the remainder to the front so the buffer does not creep.
		f.buf = append(f.buf[:0], f.buf[start:]...)
	}
	return lines
}

// Pending returns the length of the held partial line.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
