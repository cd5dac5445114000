// SPDX-License-Identifier: MIT

// Package logstore persists structured log entries in a badger database so
// the log viewer can page through history beyond the in-memory ring buffer.
// Keys are "log:<unixnano>:<seq>" with zero-padded timestamps, which makes
// byte order chronological order. Entries carry a TTL equal to the retention
// window; the daily prune job reclaims value-log space.
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/log"
)

const keyPrefix = "log:"

// Store is a badger-backed sink for structured log entries.
type Store struct {
	db        *badger.DB
	retention time.Duration
	seq       atomic.Uint64
}

// Open opens (or creates) the log store at path. A retention of zero keeps
// entries until pruned manually.
func Open(path string, retention time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type record struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func (s *Store) key(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%012d", keyPrefix, ts.UnixNano(), s.seq.Add(1)))
}

// WriteBatch persists a batch of entries in one transaction. It satisfies
// the log writer's sink contract.
func (s *Store) WriteBatch(ctx context.Context, entries []log.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			ts := e.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			rec := record{Time: ts, Level: e.Level, Message: e.Message, Fields: e.Fields}
			buf, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			entry := badger.NewEntry(s.key(ts), buf)
			if s.retention > 0 {
				entry = entry.WithTTL(s.retention)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write log batch: %w", err)
	}
	return nil
}

// Query describes a log read.
type Query struct {
	MinLevel string    // drop entries below this severity when set
	Since    time.Time // drop entries older than this when set
	Limit    int       // max entries returned; 0 means 100
}

// Entry is a persisted log record returned by Recent.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Recent returns persisted entries, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	minLevel := zerolog.TraceLevel
	if q.MinLevel != "" {
		parsed, err := zerolog.ParseLevel(q.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("parse min level: %w", err)
		}
		minLevel = parsed
	}

	prefix := []byte(keyPrefix)
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible log key, then walk backwards.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if !q.Since.IsZero() && rec.Time.Before(q.Since) {
				// Keys are time-ordered: everything further back is older.
				return nil
			}
			if lvl, err := zerolog.ParseLevel(rec.Level); err == nil && lvl < minLevel {
				continue
			}
			out = append(out, Entry(rec))
			if len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query log store: %w", err)
	}
	return out, nil
}

// Prune reclaims space from expired entries. Badger expires keys lazily, so
// the daily prune job drives value-log garbage collection explicitly.
func (s *Store) Prune(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("log store gc: %w", err)
		}
	}
}
