// SPDX-License-Identifier: MIT

package auth

import (
	"sync"
	"time"

	"github.com/comradarr/comradarr/internal/cron"
)

// Lockout defaults: five failures inside fifteen minutes lock the client out
// for fifteen minutes. A successful authentication resets the counter.
const (
	DefaultMaxFailures = 5
	DefaultWindow      = 15 * time.Minute
	DefaultLockFor     = 15 * time.Minute
)

type lockoutEntry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Lockout is a sliding-window failure counter keyed by client (in practice
// the client IP). Entries are pruned on mutation once dead, so the map stays
// bounded by the set of currently misbehaving clients.
type Lockout struct {
	mu      sync.Mutex
	clock   cron.Clock
	max     int
	window  time.Duration
	lockFor time.Duration
	entries map[string]*lockoutEntry
}

// NewLockout returns a lockout tracker with the default policy. A nil clock
// means the wall clock.
func NewLockout(clock cron.Clock) *Lockout {
	if clock == nil {
		clock = cron.System()
	}
	return &Lockout{
		clock:   clock,
		max:     DefaultMaxFailures,
		window:  DefaultWindow,
		lockFor: DefaultLockFor,
		entries: make(map[string]*lockoutEntry),
	}
}

// Locked reports whether the client is currently locked out, and until when.
func (l *Lockout) Locked(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return time.Time{}, false
	}
	now := l.clock.Now()
	if now.Before(e.lockedUntil) {
		return e.lockedUntil, true
	}
	return time.Time{}, false
}

// Fail records a failed authentication. Reaching the failure cap inside the
// window locks the client and clears the counter (the lock itself carries
// the penalty; stale failures must not re-lock immediately after expiry).
func (l *Lockout) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.pruneLocked(now)

	e, ok := l.entries[key]
	if !ok {
		e = &lockoutEntry{}
		l.entries[key] = e
	}
	e.failures = recentFailures(e.failures, now.Add(-l.window))
	e.failures = append(e.failures, now)
	if len(e.failures) >= l.max {
		e.lockedUntil = now.Add(l.lockFor)
		e.failures = nil
	}
}

// Succeed clears the client's failure history.
func (l *Lockout) Succeed(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// pruneLocked drops entries with no live lock and no failures inside the
// window. Called with l.mu held.
func (l *Lockout) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, e := range l.entries {
		if now.Before(e.lockedUntil) {
			continue
		}
		if len(recentFailures(e.failures, cutoff)) == 0 {
			delete(l.entries, key)
		}
	}
}

func recentFailures(failures []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(failures); i++ {
		if failures[i].After(cutoff) {
			break
		}
	}
	return failures[i:]
}
