// SPDX-License-Identifier: MIT

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "correlation_id"
	sourceKey        ctxKey = "source"
	userIDKey        ctxKey = "user_id"
	jobNameKey       ctxKey = "job_name"
)

// Request sources. Every core call carries one; absent context reads as
// SourceUnknown so no log line ships without an origin.
const (
	SourceHTTP      = "http"
	SourceScheduler = "scheduler"
	SourceManual    = "manual"
	SourceUnknown   = "unknown"
)

// ContextWithCorrelationID stores the provided correlation ID in the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithSource stores the request source ("http", "scheduler", "manual").
func ContextWithSource(ctx context.Context, source string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sourceKey, source)
}

// ContextWithUserID stores the acting user ID in the context.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, id)
}

// ContextWithJobName stores the scheduler job name in the context.
func ContextWithJobName(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobNameKey, name)
}

// CorrelationIDFromContext extracts the correlation ID from context if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// SourceFromContext extracts the request source, defaulting to SourceUnknown.
func SourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return SourceUnknown
	}
	if v, ok := ctx.Value(sourceKey).(string); ok && v != "" {
		return v
	}
	return SourceUnknown
}

// UserIDFromContext extracts the user ID from context if present.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// JobNameFromContext extracts the scheduler job name from context if present.
func JobNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobNameKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from ctx.
// The source field is always attached so consumers can tell scheduler-driven
// work from user-driven work even when the rest of the context is empty.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	builder := logger.With().Str(FieldSource, SourceFromContext(ctx))
	if ctx == nil {
		return builder.Logger()
	}
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		builder = builder.Str(FieldCorrelationID, cid)
	}
	if uid := UserIDFromContext(ctx); uid != "" {
		builder = builder.Str(FieldUserID, uid)
	}
	if job := JobNameFromContext(ctx); job != "" {
		builder = builder.Str(FieldJobName, job)
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := WithContext(ctx, Base())
	return l.With().Str(FieldComponent, component).Logger()
}

// FromContext returns a logger from the context, or the base logger if none
// is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
