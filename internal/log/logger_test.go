// SPDX-License-Identifier: MIT

package log

import (
	"strconv"
	"strings"
	"testing"
)

func TestStructuredBufferWriter_Framing(t *testing.T) {
	ClearRecentLogs()
	w := &structuredBufferWriter{}

	// 1. Split write: half line + rest\n
	line1Part1 := `{"time":"2026-01-01T00:00:00Z","level":"info","component":"sweep","event":"test.split","message":"part1`
	line1Part2 := `_part2"}` + "\n"

	w.Write([]byte(line1Part1))
	if got := w.snapshotLocked(); len(got) != 0 {
		t.Errorf("expected 0 logs after partial write, got %d", len(got))
	}

	w.Write([]byte(line1Part2))
	logs := w.snapshotLocked()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log after full write, got %d", len(logs))
	}
	if logs[0].Fields["event"] != "test.split" {
		t.Errorf("expected event test.split, got %v", logs[0].Fields["event"])
	}
	if logs[0].Level != "info" {
		t.Errorf("expected level info, got %q", logs[0].Level)
	}
	if logs[0].Message != "part1_part2" {
		t.Errorf("expected joined message, got %q", logs[0].Message)
	}

	// 2. Multi-line burst
	line2 := `{"time":"2026-01-01T00:00:01Z","level":"info","component":"sweep","event":"burst.1","message":"msg1"}` + "\n"
	line3 := `{"time":"2026-01-01T00:00:02Z","level":"warn","event":"admission.deferred","message":"msg2"}` + "\n"

	w.Write([]byte(line2 + line3))
	logs = w.snapshotLocked()
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs total, got %d", len(logs))
	}
	if logs[2].Level != "warn" {
		t.Errorf("expected warn level on last entry, got %q", logs[2].Level)
	}
}

func TestStructuredBufferWriter_Bounds(t *testing.T) {
	w := &structuredBufferWriter{}

	// 1. MaxPartialBytes overflow
	giantChunk := strings.Repeat("A", maxPartialBytes+1) // no newline
	w.Write([]byte(giantChunk))

	if w.partial.Len() != 0 {
		t.Error("partial buffer should have been reset after overflow")
	}
	if w.metrics.DroppedPartialOverflow == 0 {
		t.Error("expected DroppedPartialOverflow metric to be incremented")
	}

	// 2. MaxLineBytes drop
	giantLine := `{"level":"info","event":"too.big","msg":"` + strings.Repeat("B", maxLineBytes) + `"}` + "\n"
	w.Write([]byte(giantLine))

	if got := w.snapshotLocked(); len(got) != 0 {
		t.Error("giant line should have been dropped")
	}
	if w.metrics.DroppedTooLargeLines == 0 {
		t.Error("expected DroppedTooLargeLines metric to be incremented")
	}

	// 3. Malformed JSON drop
	w.Write([]byte("plain text, not json\n"))
	if got := w.snapshotLocked(); len(got) != 0 {
		t.Error("malformed line should have been dropped")
	}
	if w.metrics.DroppedMalformed == 0 {
		t.Error("expected DroppedMalformed metric to be incremented")
	}
}

func TestStructuredBufferWriter_Resize(t *testing.T) {
	w := &structuredBufferWriter{}
	w.Resize(MinRingCapacity)

	for i := 0; i < MinRingCapacity+50; i++ {
		w.Write([]byte(`{"level":"info","message":"fill","seq":` + strconv.Itoa(i) + "}\n"))
	}
	logs := w.snapshotLocked()
	if len(logs) != MinRingCapacity {
		t.Fatalf("expected ring clamped at %d, got %d", MinRingCapacity, len(logs))
	}
	// Oldest retained entry is #50.
	if got := logs[0].Fields["seq"].(float64); got != 50 {
		t.Errorf("expected oldest seq 50, got %v", got)
	}

	// Shrink below the floor clamps up.
	w.Resize(1)
	logs = w.snapshotLocked()
	if len(logs) != MinRingCapacity {
		t.Errorf("resize below floor should clamp to %d, kept %d", MinRingCapacity, len(logs))
	}
}

func (w *structuredBufferWriter) snapshotLocked() []LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}
