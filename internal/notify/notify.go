// SPDX-License-Identifier: MIT

// Package notify fans core events out to registered sinks without letting a
// slow sink stall the control plane. Delivery is asynchronous and lossy
// under pressure: a full buffer or an exhausted rate budget drops the event
// and counts the drop.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
)

// Type names one notification event.
type Type string

const (
	SweepStarted           Type = "sweep_started"
	SweepCompleted         Type = "sweep_completed"
	SearchSuccess          Type = "search_success"
	SearchExhausted        Type = "search_exhausted"
	ConnectorHealthChanged Type = "connector_health_changed"
	SyncCompleted          Type = "sync_completed"
	SyncFailed             Type = "sync_failed"
	AppStarted             Type = "app_started"
	UpdateAvailable        Type = "update_available"
)

// Event is one notification as sinks receive it.
type Event struct {
	Type    Type
	At      time.Time
	Payload map[string]any
}

// Sink delivers events to one channel (log, webhook, ...). Send must honour
// the context deadline; delivery, batching and quiet hours are the sink's
// problem.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Options tune the dispatcher. Zero values take the defaults.
type Options struct {
	BufferSize      int           // default 256
	EventsPerSecond float64       // default 5
	Burst           int           // default 10
	SendTimeout     time.Duration // default 5s
}

// Dispatcher is the process-wide notification fan-out. Publish never blocks.
type Dispatcher struct {
	sinks       []Sink
	events      chan Event
	limiter     *rate.Limiter
	sendTimeout time.Duration
	logger      zerolog.Logger

	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

// New starts a dispatcher delivering to the given sinks.
func New(opts Options, sinks ...Sink) *Dispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sinks:       sinks,
		events:      make(chan Event, opts.BufferSize),
		limiter:     rate.NewLimiter(rate.Limit(opts.EventsPerSecond), opts.Burst),
		sendTimeout: opts.SendTimeout,
		logger:      log.WithComponent("notify"),
		quit:        make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues one event. Events beyond the rate budget or the buffer
// capacity are dropped, never queued behind slow sinks.
func (d *Dispatcher) Publish(t Type, payload map[string]any) {
	if d.closed.Load() {
		return
	}
	if !d.limiter.Allow() {
		metrics.RecordNotifyDrop("rate_limited")
		d.logger.Debug().
			Str("event", "notify.dropped").
			Str("type", string(t)).
			Str("reason", "rate_limited").
			Msg("notification dropped")
		return
	}
	ev := Event{Type: t, At: time.Now(), Payload: payload}
	select {
	case d.events <- ev:
		metrics.RecordNotifyEvent(string(t))
	default:
		metrics.RecordNotifyDrop("buffer_full")
		d.logger.Warn().
			Str("event", "notify.dropped").
			Str("type", string(t)).
			Str("reason", "buffer_full").
			Msg("notification dropped")
	}
}

// Close stops intake, drains buffered events to the sinks and returns.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.quit:
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := s.Send(ctx, ev); err != nil {
			metrics.RecordNotifySinkError(s.Name())
			d.logger.Warn().
				Err(err).
				Str("event", "notify.sink_failed").
				Str("sink", s.Name()).
				Str("type", string(ev.Type)).
				Msg("notification sink failed")
		}
		cancel()
	}
}
