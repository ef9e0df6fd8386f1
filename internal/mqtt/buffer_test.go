package mqtt

import (
	"io"
	"log/slog"
	"testing"

	"pgregory.net/rapid"
)

func quietBuffer(capacity int) *ringBuffer {
	return newRingBuffer(capacity, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pushN(rb *ringBuffer, from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: "boxing/sensor/punches", payload: []byte{byte(i)}})
	}
}

func payloads(msgs []bufferedMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := quietBuffer(10)
	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferDrainOrder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   int
		want     []byte
	}{
		{"partial", 10, 5, []byte{0, 1, 2, 3, 4}},
		{"exactly full", 4, 4, []byte{0, 1, 2, 3}},
		{"overflow keeps newest", 5, 8, []byte{3, 4, 5, 6, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := quietBuffer(tt.capacity)
			pushN(rb, 0, tt.pushed)

			got := payloads(rb.drainAll())
			if string(got) != string(tt.want) {
				t.Errorf("drained %v, want %v", got, tt.want)
			}
			if rb.len() != 0 {
				t.Errorf("len after drain = %d", rb.len())
			}
		})
	}
}

func TestRingBufferDroppedCount(t *testing.T) {
	rb := quietBuffer(3)
	pushN(rb, 0, 7)
	if rb.dropped != 4 {
		t.Errorf("dropped = %d, want 4", rb.dropped)
	}
	if !rb.overflow {
		t.Error("overflow flag not set")
	}
	rb.drainAll()
	if rb.overflow {
		t.Error("overflow flag should clear on drain")
	}
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := quietBuffer(5)
	pushN(rb, 0, 3)
	if n := len(rb.drainAll()); n != 3 {
		t.Fatalf("cycle 1: expected 3 items, got %d", n)
	}

	pushN(rb, 10, 14)
	got := payloads(rb.drainAll())
	if string(got) != string([]byte{10, 11, 12, 13}) {
		t.Errorf("cycle 2: drained %v", got)
	}
}

func TestRingBufferUnshift(t *testing.T) {
	rb := quietBuffer(10)
	pushN(rb, 5, 7) // published while the replay was running

	rb.unshift([]bufferedMsg{
		{topic: "t", payload: []byte{2}},
		{topic: "t", payload: []byte{3}},
	})

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{2, 3, 5, 6}) {
		t.Errorf("drained %v, want [2 3 5 6]", got)
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := quietBuffer(10)
	rb.push(bufferedMsg{
		topic:    "boxing/sensor/system",
		payload:  []byte(`{"test":true}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	m := got[0]
	if m.topic != "boxing/sensor/system" || string(m.payload) != `{"test":true}` || m.qos != 1 || !m.retained {
		t.Errorf("fields not preserved: %+v", m)
	}
}

func TestRingBufferZeroCapacity(t *testing.T) {
	rb := quietBuffer(0)
	pushN(rb, 0, 3)
	if got := payloads(rb.drainAll()); string(got) != string([]byte{2}) {
		t.Errorf("drained %v, want [2]", got)
	}
}

func TestRingBufferKeepsNewestSuffix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		n := rapid.IntRange(0, 64).Draw(t, "n")

		rb := quietBuffer(capacity)
		pushN(rb, 0, n)
		got := payloads(rb.drainAll())

		want := n
		if want > capacity {
			want = capacity
		}
		if len(got) != want {
			t.Fatalf("drained %d, want %d", len(got), want)
		}
		for i, b := range got {
			if int(b) != n-want+i {
				t.Fatalf("item %d = %d, want %d", i, b, n-want+i)
			}
		}
	})
}
