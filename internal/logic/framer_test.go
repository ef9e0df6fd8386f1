package logic

import (
	"reflect"
	"sort"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestFramerSplitAcrossCalls(t *testing.T) {
	f := NewFramer()
	var got []string
	got = append(got, f.Feed("ab")...)
	got = append(got, f.Feed("c\ndef\n")...)

	want := []string{"abc", "def"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}

	whole := NewFramer().Feed("abc\ndef\n")
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("single feed: expected %q, got %q", want, whole)
	}
}

func TestFramerEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending int
	}{
		{"empty chunk", []string{""}, nil, 0},
		{"bare newline", []string{"\n"}, []string{""}, 0},
		{"no newline", []string{"{\"type\""}, nil, 7},
		{"many lines one chunk", []string{"a\nb\nc\n"}, []string{"a", "b", "c"}, 0},
		{"trailing fragment held", []string{"a\nb"}, []string{"a"}, 1},
		{"fragment completed later", []string{"a\nb", "c\n"}, []string{"a", "bc"}, 0},
		{"crlf kept for decoder", []string{"x\r\n"}, []string{"x\r"}, 0},
		{"consecutive newlines", []string{"\n\n"}, []string{"", ""}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer()
			var got []string
			for _, c := range tt.chunks {
				got = append(got, f.Feed(c)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if f.Pending() != tt.pending {
				t.Errorf("expected pending %d, got %d", tt.pending, f.Pending())
			}
		})
	}
}

func TestFramerReset(t *testing.T) {
	f := NewFramer()
	f.Feed(`{"type":"real`)
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("expected empty buffer after reset, got %d bytes", f.Pending())
	}
	got := f.Feed("time\"}\n")
	if len(got) != 1 || got[0] != `time"}` {
		t.Errorf("expected stale fragment to be gone, got %q", got)
	}
}

func TestFramerLineIntegrity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOf(rapid.StringMatching(`[a-z0-9{}":, ]{0,12}`)).Draw(t, "lines")
		tail := rapid.StringMatching(`[a-z{]{0,6}`).Draw(t, "tail")

		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
		sb.WriteString(tail)
		input := sb.String()

		cuts := rapid.SliceOfN(rapid.IntRange(0, len(input)), 0, 8).Draw(t, "cuts")
		sort.Ints(cuts)

		f := NewFramer()
		var got []string
		prev := 0
		for _, c := range cuts {
			got = append(got, f.Feed(input[prev:c])...)
			prev = c
		}
		got = append(got, f.Feed(input[prev:])...)

		if len(got) != len(lines) {
			t.Fatalf("expected %d lines, got %d (%q)", len(lines), len(got), got)
		}
		for i := range lines {
			if got[i] != lines[i] {
				t.Fatalf("line %d: expected %q, got %q", i, lines[i], got[i])
			}
		}
		if f.Pending() != len(tail) {
			t.Fatalf("expected %d pending bytes, got %d", len(tail), f.Pending())
		}
	})
}
