// SPDX-License-Identifier: MIT

package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/log"
)

// LogSink writes events to the structured log. It is always registered, so
// every notification leaves at least one local trace.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging under the notify component.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, ev Event) error {
	s.logger.Info().
		Str("event", "notify."+string(ev.Type)).
		Time("at", ev.At).
		Fields(ev.Payload).
		Msg("notification")
	return nil
}
