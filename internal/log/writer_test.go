// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]LogEntry
	notify  chan int
}

func newCaptureSink() *captureSink {
	return &captureSink{notify: make(chan int, 64)}
}

func (c *captureSink) WriteBatch(_ context.Context, entries []LogEntry) error {
	c.mu.Lock()
	batch := make([]LogEntry, len(entries))
	copy(batch, entries)
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.notify <- len(batch)
	return nil
}

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := newCaptureSink()
	w := NewWriter(sink, WithBatchSize(10), WithFlushInterval(time.Hour))
	w.Start()

	for i := 0; i < 25; i++ {
		w.Enqueue(LogEntry{Message: "m" + strconv.Itoa(i)})
	}

	// Two full batches flush on size alone; the hour ticker never fires.
	for i := 0; i < 2; i++ {
		select {
		case n := <-sink.notify:
			if n != 10 {
				t.Fatalf("expected batch of 10, got %d", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for size-triggered flush")
		}
	}

	// Close drains the remaining 5.
	w.Close()
	if got := sink.total(); got != 25 {
		t.Fatalf("expected 25 entries persisted after drain, got %d", got)
	}
	if stats := w.Stats(); stats.Flushed != 25 {
		t.Errorf("expected 25 flushed in stats, got %d", stats.Flushed)
	}
}

func TestWriterFlushesOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := newCaptureSink()
	w := NewWriter(sink, WithBatchSize(100), WithFlushInterval(20*time.Millisecond))
	w.Start()
	defer w.Close()

	w.Enqueue(LogEntry{Message: "solo"})

	select {
	case n := <-sink.notify:
		if n != 1 {
			t.Fatalf("expected single-entry interval flush, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interval flush")
	}
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	sink := newCaptureSink()
	w := NewWriter(sink) // not started: queue fills
	for i := 0; i < writerQueueDepth+10; i++ {
		w.Enqueue(LogEntry{Message: "x"})
	}
	if stats := w.Stats(); stats.Dropped != 10 {
		t.Fatalf("expected 10 dropped, got %d", stats.Dropped)
	}
	// Start and close to drain the queued entries cleanly.
	w.Start()
	w.Close()
	if got := sink.total(); got != writerQueueDepth {
		t.Fatalf("expected %d drained entries, got %d", writerQueueDepth, got)
	}
}
