// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// WithTraceContext returns a logger carrying the active span's trace and
// span IDs, so log lines can be joined with traces. Without a valid span
// the base logger is returned unchanged.
func WithTraceContext(ctx context.Context) zerolog.Logger {
	logger := Base()
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
