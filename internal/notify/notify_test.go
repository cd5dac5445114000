// SPDX-License-Identifier: MIT

package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/notify"
)

type recordSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Send(_ context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) all() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

// blockSink parks inside Send until released, to hold the worker busy.
type blockSink struct {
	entered chan struct{}
	release chan struct{}
	inner   recordSink
}

func newBlockSink() *blockSink {
	return &blockSink{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockSink) Name() string { return "block" }

func (s *blockSink) Send(ctx context.Context, ev notify.Event) error {
	s.entered <- struct{}{}
	<-s.release
	return s.inner.Send(ctx, ev)
}

func drops(reason string) float64 {
	return testutil.ToFloat64(metrics.NotifyDroppedTotal.WithLabelValues(reason))
}

func TestPublishDeliversToSinks(t *testing.T) {
	sink := &recordSink{}
	d := notify.New(notify.Options{EventsPerSecond: 1000, Burst: 1000}, sink)

	d.Publish(notify.SweepStarted, map[string]any{"connector": "sonarr-main"})
	d.Publish(notify.SweepCompleted, map[string]any{"dispatched": 4})
	d.Publish(notify.AppStarted, map[string]any{"version": "1.0.0"})
	d.Close()

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, notify.SweepStarted, got[0].Type)
	assert.Equal(t, "sonarr-main", got[0].Payload["connector"])
	assert.Equal(t, notify.AppStarted, got[2].Type)
	assert.False(t, got[0].At.IsZero())
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	sink := newBlockSink()
	d := notify.New(notify.Options{BufferSize: 1, EventsPerSecond: 1000, Burst: 1000}, sink)

	before := drops("buffer_full")

	d.Publish(notify.SearchSuccess, nil)
	<-sink.entered // worker is parked in Send, buffer empty again

	d.Publish(notify.SearchSuccess, nil) // fills the buffer
	d.Publish(notify.SearchSuccess, nil) // no room left
	assert.Equal(t, before+1, drops("buffer_full"))

	close(sink.release)
	d.Close()
	assert.Len(t, sink.inner.all(), 2)
}

func TestPublishDropsWhenRateLimited(t *testing.T) {
	sink := &recordSink{}
	d := notify.New(notify.Options{EventsPerSecond: 1, Burst: 1}, sink)

	before := drops("rate_limited")

	for i := 0; i < 5; i++ {
		d.Publish(notify.SyncFailed, nil)
	}
	d.Close()

	assert.Equal(t, before+4, drops("rate_limited"))
	assert.Len(t, sink.all(), 1)
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	sink := &recordSink{}
	d := notify.New(notify.Options{BufferSize: 64, EventsPerSecond: 1000, Burst: 1000}, sink)

	for i := 0; i < 10; i++ {
		d.Publish(notify.SyncCompleted, map[string]any{"n": i})
	}
	d.Close()

	assert.Len(t, sink.all(), 10)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	sink := &recordSink{}
	d := notify.New(notify.Options{EventsPerSecond: 1000, Burst: 1000}, sink)
	d.Close()

	d.Publish(notify.SweepStarted, nil)
	assert.Empty(t, sink.all())
}

func TestSinkErrorsDoNotStopDelivery(t *testing.T) {
	bad := &errorSink{}
	good := &recordSink{}
	d := notify.New(notify.Options{EventsPerSecond: 1000, Burst: 1000}, bad, good)

	d.Publish(notify.ConnectorHealthChanged, map[string]any{"status": "offline"})
	d.Close()

	assert.Len(t, good.all(), 1, "a failing sink must not block the next sink")
}

type errorSink struct{}

func (s *errorSink) Name() string { return "error" }

func (s *errorSink) Send(context.Context, notify.Event) error {
	return errors.New("boom")
}
