// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"
)

func TestGetSetExpiry(t *testing.T) {
	c := New[string](0)
	defer c.Stop()

	c.Set("k", "v", 50*time.Millisecond)
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected hit with %q, got %q ok=%v", "v", got, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int](0)
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected deleted key to miss")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected untouched key to hit")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected cleared cache to miss")
	}
}

func TestJanitorEvicts(t *testing.T) {
	c := New[string](20 * time.Millisecond)
	defer c.Stop()

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("long", "v", time.Minute)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Evictions >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := c.Stats()
	if stats.Evictions < 1 {
		t.Fatalf("expected janitor eviction, stats: %+v", stats)
	}
	if stats.CurrentSize != 1 {
		t.Fatalf("expected one surviving entry, got %d", stats.CurrentSize)
	}
}

func TestStatsCounters(t *testing.T) {
	c := New[string](0)
	defer c.Stop()

	c.Set("k", "v", time.Minute)
	c.Get("k")
	c.Get("absent")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStopIdempotent(t *testing.T) {
	c := New[string](time.Millisecond)
	c.Stop()
	c.Stop()
}
