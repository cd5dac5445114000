// SPDX-License-Identifier: MIT

package search

import (
	"math"
	"math/rand"
	"time"
)

// Cooldown parameterizes the escalation ladder a row climbs between failed
// attempts. The zero value behaves like the defaults: 1h base, 24h cap,
// doubling, no jitter.
type Cooldown struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// Delay returns how long a row rests after failed attempt number attempt
// (1-based): min(Max, Base*Multiplier^(attempt-1)). With jitter on, the
// result is multiplied by a uniform factor in [0.5, 1.5) and clamped back
// into [Base, Max].
func (c Cooldown) Delay(attempt int) time.Duration {
	lo := c.Base
	if lo <= 0 {
		lo = time.Hour
	}
	hi := c.Max
	if hi <= 0 {
		hi = 24 * time.Hour
	}
	if hi < lo {
		hi = lo
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 2
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(lo) * math.Pow(mult, float64(attempt-1))
	if d > float64(hi) {
		d = float64(hi)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64()
		d = math.Max(d, float64(lo))
		d = math.Min(d, float64(hi))
	}
	return time.Duration(d)
}
