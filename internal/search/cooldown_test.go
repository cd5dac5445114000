// SPDX-License-Identifier: MIT

package search_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/comradarr/comradarr/internal/search"
)

func TestCooldownLadder(t *testing.T) {
	c := search.Cooldown{Base: time.Hour, Max: 24 * time.Hour, Multiplier: 2}

	want := []time.Duration{time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour, 16 * time.Hour}
	for i, w := range want {
		assert.Equal(t, w, c.Delay(i+1), "attempt %d", i+1)
	}
	// Attempt 6 would be 32h; the cap wins.
	assert.Equal(t, 24*time.Hour, c.Delay(6))
}

func TestCooldownJitterStaysBounded(t *testing.T) {
	c := search.Cooldown{Base: time.Hour, Max: 24 * time.Hour, Multiplier: 2, Jitter: true}

	for i := 0; i < 200; i++ {
		d := c.Delay(3) // 4h before jitter
		assert.GreaterOrEqual(t, d, 2*time.Hour)
		assert.LessOrEqual(t, d, 6*time.Hour)
	}
	for i := 0; i < 200; i++ {
		// 1h before jitter: the downward half clamps at the base.
		d := c.Delay(1)
		assert.GreaterOrEqual(t, d, time.Hour)
		assert.LessOrEqual(t, d, 90*time.Minute)
	}
	for i := 0; i < 200; i++ {
		// Already at the cap: jitter may shorten but never extend.
		d := c.Delay(10)
		assert.GreaterOrEqual(t, d, 12*time.Hour)
		assert.LessOrEqual(t, d, 24*time.Hour)
	}
}

func TestCooldownZeroValueDefaults(t *testing.T) {
	var c search.Cooldown
	assert.Equal(t, time.Hour, c.Delay(1))
	assert.Equal(t, 2*time.Hour, c.Delay(2))
	assert.Equal(t, 24*time.Hour, c.Delay(10))
	assert.Equal(t, time.Hour, c.Delay(0), "attempt floors at 1")
}
