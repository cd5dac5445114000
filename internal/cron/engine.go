// SPDX-License-Identifier: MIT

// Package cron wraps schedule expression parsing and occurrence math. It is
// the sole authority for time zone and DST handling: callers hand in absolute
// times and get absolute times back, never doing civil-time arithmetic
// themselves.
package cron

import (
	"errors"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var (
	// ErrInvalidExpression reports an unparseable cron expression.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrInvalidTimezone reports an unknown IANA zone name.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrTooManyMissed reports a missed-occurrence enumeration that exceeded
	// the safety cap, usually a sign of severe clock skew.
	ErrTooManyMissed = errors.New("too many missed occurrences")
)

// maxMissedFires bounds missed-occurrence enumeration. A minutely schedule
// reaches the cap after roughly 16 hours of downtime, which is far beyond
// anything catch-up should try to repair.
const maxMissedFires = 1000

// Expression is a parsed 5-field cron expression bound to a time zone.
type Expression struct {
	raw   string
	loc   *time.Location
	sched robfig.Schedule
}

// Parse compiles a 5-field cron expression under the given IANA zone name.
// An empty timezone means UTC.
func Parse(expr, timezone string) (*Expression, error) {
	loc := time.UTC
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
		}
		loc = parsed
	}
	sched, err := robfig.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	return &Expression{raw: expr, loc: loc, sched: sched}, nil
}

// Validate reports whether the expression parses under the zone.
func Validate(expr, timezone string) error {
	_, err := Parse(expr, timezone)
	return err
}

// String returns the raw expression.
func (e *Expression) String() string { return e.raw }

// Location returns the zone the expression is evaluated in.
func (e *Expression) Location() *time.Location { return e.loc }

// Next returns the first fire time strictly after the given instant, or the
// zero time when the schedule never fires again.
func (e *Expression) Next(after time.Time) time.Time {
	return e.sched.Next(after.In(e.loc))
}

// FiresBetween enumerates fire times strictly after since and at or before
// now, in ascending order. Enumeration stops with ErrTooManyMissed once the
// safety cap is exceeded.
func (e *Expression) FiresBetween(since, now time.Time) ([]time.Time, error) {
	if !now.After(since) {
		return nil, nil
	}
	var fires []time.Time
	prev := since
	for t := e.Next(since); !t.IsZero() && !t.After(now); t = e.Next(t) {
		if !t.After(prev) {
			// Schedules always advance; bail out rather than spin.
			break
		}
		fires = append(fires, t)
		if len(fires) > maxMissedFires {
			return nil, fmt.Errorf("%w: %q produced more than %d between %s and %s",
				ErrTooManyMissed, e.raw, maxMissedFires, since.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		prev = t
	}
	return fires, nil
}

// LastMissed returns the most recent fire time in (since, now], if any.
// Catch-up runs at most this single occurrence, never the whole backlog, so
// the scan keeps only the latest fire and tolerates far longer outages than
// FiresBetween before hitting its cap.
func (e *Expression) LastMissed(since, now time.Time) (time.Time, bool, error) {
	if !now.After(since) {
		return time.Time{}, false, nil
	}
	var (
		last  time.Time
		found bool
	)
	prev := since
	for i, t := 0, e.Next(since); !t.IsZero() && !t.After(now); i, t = i+1, e.Next(t) {
		if !t.After(prev) {
			break
		}
		if i >= maxMissedFires*1000 {
			return time.Time{}, false, fmt.Errorf("%w: %q since %s",
				ErrTooManyMissed, e.raw, since.Format(time.RFC3339))
		}
		last, found = t, true
		prev = t
	}
	return last, found, nil
}
