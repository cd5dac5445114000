// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	writerQueueDepth     = 1024
)

// BatchSink persists batches of log entries.
type BatchSink interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Writer batches entries from the ring buffer writer and flushes them to a
// BatchSink, at most batchSize entries or flushInterval apart. It is the
// process-wide persistence singleton; Start and Close bracket its lifetime.
type Writer struct {
	sink          BatchSink
	batchSize     int
	flushInterval time.Duration

	in      chan LogEntry
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	dropped  atomic.Uint64
	failures atomic.Uint64
	flushed  atomic.Uint64
}

// WriterOption tunes a Writer.
type WriterOption func(*Writer)

// WithBatchSize overrides the flush batch size.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval overrides the flush interval.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// NewWriter builds a Writer flushing into sink.
func NewWriter(sink BatchSink, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:          sink,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		in:            make(chan LogEntry, writerQueueDepth),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the flush loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Enqueue hands an entry to the writer without blocking. Entries are dropped
// (and counted) when the queue is full, never stalling the logging path.
func (w *Writer) Enqueue(e LogEntry) {
	select {
	case w.in <- e:
	default:
		w.dropped.Add(1)
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]LogEntry, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.sink.WriteBatch(context.Background(), batch); err != nil {
			w.failures.Add(1)
		} else {
			w.flushed.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.in:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			// Drain whatever arrived before shutdown, then flush once more.
			for {
				select {
				case e := <-w.in:
					batch = append(batch, e)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the loop after draining pending entries.
func (w *Writer) Close() {
	w.stopped.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// WriterStats reports writer counters.
type WriterStats struct {
	Dropped  uint64
	Failures uint64
	Flushed  uint64
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Dropped:  w.dropped.Load(),
		Failures: w.failures.Load(),
		Flushed:  w.flushed.Load(),
	}
}
