package cache

import (
	"testing"
	"time"
)

func newTestCache(ttl time.Duration) (*TTL[string, int], *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	c := NewTTL[string, int](ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestTTL_CachesUntilExpiry(t *testing.T) {
	c, now := newTestCache(3 * time.Second)

	c.Set("PropertyCreated", 1000)
	if v, ok := c.Get("PropertyCreated"); !ok || v != 1000 {
		t.Fatalf("expected cached 1000, got %d (ok=%v)", v, ok)
	}

	*now = now.Add(2 * time.Second)
	if _, ok := c.Get("PropertyCreated"); !ok {
		t.Error("expected entry to still be valid within TTL")
	}

	*now = now.Add(time.Second)
	if _, ok := c.Get("PropertyCreated"); ok {
		t.Error("expected entry to expire at TTL")
	}
}

func TestTTL_Sweep(t *testing.T) {
	c, now := newTestCache(time.Second)

	c.Set("a", 1)
	*now = now.Add(500 * time.Millisecond)
	c.Set("b", 2)
	*now = now.Add(600 * time.Millisecond)

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("expected b to survive, got %d (ok=%v)", v, ok)
	}
}

func TestTTL_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("a", 1)
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected invalidated entry to miss")
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("expected fresh value 2, got %d", v)
	}
}
