// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

const (
	// DefaultRingCapacity is how many recent entries the in-memory buffer
	// retains when no explicit size is configured.
	DefaultRingCapacity = 10000
	// MinRingCapacity is the lower bound enforced by Resize.
	MinRingCapacity = 100

	maxLineBytes    = 16384
	maxPartialBytes = 65536
)

// LogEntry is a parsed structured log line retained in the ring buffer and
// handed to the persistence writer.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]interface{}
}

// BufferMetrics counts entries the buffer writer had to drop.
type BufferMetrics struct {
	DroppedPartialOverflow uint64
	DroppedTooLargeLines   uint64
	DroppedMalformed       uint64
}

// EntrySink receives parsed entries for asynchronous persistence.
type EntrySink interface {
	Enqueue(LogEntry)
}

// structuredBufferWriter is an io.Writer hooked behind the zerolog output.
// It re-frames the byte stream into JSON lines, parses each line and appends
// it to the ring buffer, forwarding to the persistence sink when enabled.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
	entries []LogEntry
	next    int
	size    int
	cap     int
	metrics BufferMetrics

	sink        EntrySink
	sinkEnabled bool
}

var globalBuffer = &structuredBufferWriter{}

func (w *structuredBufferWriter) capacity() int {
	if w.cap <= 0 {
		return DefaultRingCapacity
	}
	return w.cap
}

// Write implements io.Writer. Chunks may contain partial lines or several
// complete lines; framing state is kept across calls.
func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		data := w.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		w.partial.Next(idx + 1)
		w.consumeLine(line)
	}
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		w.metrics.DroppedPartialOverflow++
	}
	return len(p), nil
}

func (w *structuredBufferWriter) consumeLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		w.metrics.DroppedTooLargeLines++
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(line, &fields); err != nil {
		w.metrics.DroppedMalformed++
		return
	}
	entry := LogEntry{Fields: fields}
	if v, ok := fields["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts
		}
		delete(fields, "time")
	}
	if v, ok := fields["level"].(string); ok {
		entry.Level = v
		delete(fields, "level")
	}
	if v, ok := fields["message"].(string); ok {
		entry.Message = v
		delete(fields, "message")
	}
	w.append(entry)
	if w.sinkEnabled && w.sink != nil {
		w.sink.Enqueue(entry)
	}
}

func (w *structuredBufferWriter) append(e LogEntry) {
	capacity := w.capacity()
	if len(w.entries) != capacity {
		w.rebuild(capacity)
	}
	w.entries[w.next] = e
	w.next = (w.next + 1) % capacity
	if w.size < capacity {
		w.size++
	}
}

// rebuild re-allocates the backing slice, retaining the newest entries that
// still fit.
func (w *structuredBufferWriter) rebuild(capacity int) {
	recent := w.snapshot()
	if len(recent) > capacity {
		recent = recent[len(recent)-capacity:]
	}
	w.entries = make([]LogEntry, capacity)
	copy(w.entries, recent)
	w.size = len(recent)
	w.next = w.size % capacity
}

// snapshot returns entries oldest first. Caller must hold the lock.
func (w *structuredBufferWriter) snapshot() []LogEntry {
	out := make([]LogEntry, 0, w.size)
	if w.size == 0 {
		return out
	}
	capacity := len(w.entries)
	start := (w.next - w.size + capacity) % capacity
	for i := 0; i < w.size; i++ {
		out = append(out, w.entries[(start+i)%capacity])
	}
	return out
}

// Resize changes the ring capacity, keeping the newest entries. Sizes below
// MinRingCapacity are clamped up.
func (w *structuredBufferWriter) Resize(capacity int) {
	if capacity < MinRingCapacity {
		capacity = MinRingCapacity
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cap = capacity
	w.rebuild(capacity)
}

// SetSink registers the persistence sink entries are forwarded to.
func (w *structuredBufferWriter) SetSink(sink EntrySink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = sink
}

// EnablePersistence toggles forwarding to the registered sink. When off,
// entries live only in the ring.
func (w *structuredBufferWriter) EnablePersistence(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinkEnabled = on
}

// ResizeRecentLogs changes the ring buffer capacity at runtime.
func ResizeRecentLogs(capacity int) {
	globalBuffer.Resize(capacity)
}

// SetPersistenceSink registers the sink entries are forwarded to when
// persistence is enabled.
func SetPersistenceSink(sink EntrySink) {
	globalBuffer.SetSink(sink)
}

// EnablePersistence toggles forwarding of entries to the persistence sink.
func EnablePersistence(on bool) {
	globalBuffer.EnablePersistence(on)
}

// GetRecentLogs returns the buffered entries, oldest first.
func GetRecentLogs() []LogEntry {
	globalBuffer.mu.Lock()
	defer globalBuffer.mu.Unlock()
	return globalBuffer.snapshot()
}

// ClearRecentLogs empties the ring buffer and resets drop metrics.
func ClearRecentLogs() {
	globalBuffer.mu.Lock()
	defer globalBuffer.mu.Unlock()
	globalBuffer.entries = nil
	globalBuffer.next = 0
	globalBuffer.size = 0
	globalBuffer.partial.Reset()
	globalBuffer.metrics = BufferMetrics{}
}

// GetBufferMetrics returns drop counters for the ring buffer writer.
func GetBufferMetrics() BufferMetrics {
	globalBuffer.mu.Lock()
	defer globalBuffer.mu.Unlock()
	return globalBuffer.metrics
}
