// SPDX-License-Identifier: MIT

package settings

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/cache"
	"github.com/comradarr/comradarr/internal/log"
)

// cacheTTL bounds staleness at call sites; writers from other processes
// become visible within this window.
const cacheTTL = 30 * time.Second

// Bridge wraps the raw Store with typed accessors, compiled-in defaults and
// a per-key read cache. Read failures degrade to defaults rather than
// propagating, so a flaky settings backend never stalls a sweep.
type Bridge struct {
	store  Store
	cache  *cache.TTL[string]
	logger zerolog.Logger
}

// NewBridge wraps a Store. The cache janitor runs until Close.
func NewBridge(store Store) *Bridge {
	return &Bridge{
		store:  store,
		cache:  cache.New[string](time.Minute),
		logger: log.WithComponent("settings"),
	}
}

// Close stops the cache janitor and closes the backend.
func (b *Bridge) Close() error {
	b.cache.Stop()
	return b.store.Close()
}

// String returns the value for key, falling back to the compiled-in default
// on absence or backend error.
func (b *Bridge) String(ctx context.Context, key string) string {
	if v, ok := b.cache.Get(key); ok {
		return v
	}
	v, err := b.store.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			b.logger.Warn().
				Str("event", "settings.read_failed").
				Str("key", key).
				Err(err).
				Msg("settings backend read failed, using default")
		}
		v = Default(key)
	}
	b.cache.Set(key, v, cacheTTL)
	return v
}

// Set writes through to the backend and drops the cached value so the next
// in-process read observes the write immediately.
func (b *Bridge) Set(ctx context.Context, key, value string) error {
	if err := b.store.Set(ctx, key, value); err != nil {
		return err
	}
	b.cache.Delete(key)
	return nil
}

// All returns the stored values merged over the defaults.
func (b *Bridge) All(ctx context.Context) (map[string]string, error) {
	stored, err := b.store.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Int parses the value for key, falling back to the default on bad input.
func (b *Bridge) Int(ctx context.Context, key string) int {
	raw := b.String(ctx, key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		b.warnParse(key, raw)
		n, _ = strconv.Atoi(Default(key))
	}
	return n
}

// Float parses the value for key as float64.
func (b *Bridge) Float(ctx context.Context, key string) float64 {
	raw := b.String(ctx, key)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		b.warnParse(key, raw)
		f, _ = strconv.ParseFloat(Default(key), 64)
	}
	return f
}

// Bool parses the value for key as bool.
func (b *Bridge) Bool(ctx context.Context, key string) bool {
	raw := b.String(ctx, key)
	v, err := strconv.ParseBool(raw)
	if err != nil {
		b.warnParse(key, raw)
		v, _ = strconv.ParseBool(Default(key))
	}
	return v
}

// Location resolves the app timezone setting, falling back to UTC on an
// unknown zone. The governor's day window and schedule catch-up use this.
func (b *Bridge) Location(ctx context.Context) *time.Location {
	name := b.String(ctx, KeyTimezone)
	loc, err := time.LoadLocation(name)
	if err != nil {
		b.warnParse(KeyTimezone, name)
		return time.UTC
	}
	return loc
}

func (b *Bridge) warnParse(key, raw string) {
	b.logger.Warn().
		Str("event", "settings.parse_failed").
		Str("key", key).
		Str("value", raw).
		Msg("unparseable setting value, using default")
}
