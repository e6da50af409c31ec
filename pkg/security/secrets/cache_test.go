package secrets

import (
	"testing"
	"time"
)

func TestCache_TTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute})
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
}

func TestCache_Disabled(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: false, TTL: time.Minute})
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache returned a value")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d", c.Size())
	}
}

func TestCache_EvictsSoonestExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2})
	c.now = func() time.Time { return now }

	c.Set("first", "1")
	now = now.Add(time.Second)
	c.Set("second", "2")
	now = now.Add(time.Second)
	c.Set("third", "3")

	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
	if _, ok := c.Get("first"); ok {
		t.Error("oldest entry not evicted")
	}

	// Overwriting an existing key never evicts.
	c.Set("third", "3b")
	if _, ok := c.Get("second"); !ok {
		t.Error("overwrite evicted another entry")
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute})
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry returned")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}
