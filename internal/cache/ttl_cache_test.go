package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Second)
	c.Set("b", 2, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected cached value, got %v %v", v, ok)
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected entry without ttl to survive")
	}
}

func TestTTLCacheDeleteAndPurge(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("x", "1", time.Minute)
	c.Set("y", "2", time.Minute)

	c.Delete("x")
	if _, ok := c.Get("x"); ok {
		t.Fatalf("expected x to be deleted")
	}

	c.Purge()
	if _, ok := c.Get("y"); ok {
		t.Fatalf("expected purge to clear y")
	}
}

func TestNilAndNoopCache(t *testing.T) {
	var c *TTLCache[string, int]
	c.Set("a", 1, time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("nil cache must miss")
	}

	var noop Cache[string, int] = NoopCache[string, int]{}
	noop.Set("a", 1, time.Second)
	if _, ok := noop.Get("a"); ok {
		t.Fatalf("noop cache must miss")
	}
}

func TestKeyNormalizes(t *testing.T) {
	if got := Key(" Tenant ", "ACTIVE_SURVEYS"); got != "tenant|active_surveys" {
		t.Fatalf("unexpected key %q", got)
	}
}
