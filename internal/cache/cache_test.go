package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestCache(ttl time.Duration, max int) (*Cache, *time.Time) {
	c := New(ttl, max)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetMissThenHit(t *testing.T) {
	c, _ := newTestCache(5*time.Second, 10)
	key, err := Key("/p", "textDocument/hover", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(key, "/p", json.RawMessage(`{"v":1}`), 0)
	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected hit after Put")
	}
	if string(got) != `{"v":1}` {
		t.Fatalf("got %s", got)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestExpiryIsExclusive(t *testing.T) {
	c, now := newTestCache(5*time.Second, 10)
	key, _ := Key("/p", "m", nil)
	c.Put(key, "/p", json.RawMessage(`1`), 5*time.Second)

	*now = now.Add(5*time.Second - time.Nanosecond)
	if _, ok := c.Get(key); !ok {
		t.Fatalf("entry should still be live just before the TTL")
	}
	*now = now.Add(time.Nanosecond)
	if _, ok := c.Get(key); ok {
		t.Fatalf("entry should be gone at exactly the TTL")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry should be removed, size = %d", c.Size())
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Fatalf("evictions = %d, want 1", ev)
	}
}

func TestKeyDistinguishesRootMethodAndParams(t *testing.T) {
	base, _ := Key("/p1", "m", map[string]any{"x": 1})
	for _, tc := range []struct {
		name   string
		root   string
		method string
		params any
	}{
		{"root", "/p2", "m", map[string]any{"x": 1}},
		{"method", "/p1", "n", map[string]any{"x": 1}},
		{"params", "/p1", "m", map[string]any{"x": 2}},
	} {
		other, _ := Key(tc.root, tc.method, tc.params)
		if other == base {
			t.Errorf("%s: key collision", tc.name)
		}
	}
}

func TestKeyCanonicalizesParamOrder(t *testing.T) {
	// encoding/json emits map keys sorted, so logically equal params hash equal.
	a, _ := Key("/p", "m", map[string]any{"line": 3, "character": 7})
	b, _ := Key("/p", "m", map[string]any{"character": 7, "line": 3})
	if a != b {
		t.Fatalf("equal params produced different keys")
	}
}

func TestInvalidateProjectIsScoped(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	k1, _ := Key("/p1", "m", nil)
	k2, _ := Key("/p1", "n", nil)
	k3, _ := Key("/p2", "m", nil)
	c.Put(k1, "/p1", json.RawMessage(`1`), 0)
	c.Put(k2, "/p1", json.RawMessage(`2`), 0)
	c.Put(k3, "/p2", json.RawMessage(`3`), 0)

	if n := c.InvalidateProject("/p1"); n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if _, ok := c.Get(k3); !ok {
		t.Fatalf("other project's entry should survive")
	}
	if _, ok := c.Get(k1); ok {
		t.Fatalf("invalidated entry should be gone")
	}
}

func TestPutSnapshotsValue(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	key, _ := Key("/p", "m", nil)
	val := json.RawMessage(`{"v":1}`)
	c.Put(key, "/p", val, 0)
	val[5] = '9'
	got, _ := c.Get(key)
	if string(got) != `{"v":1}` {
		t.Fatalf("cached value aliased caller buffer: %s", got)
	}
}

func TestCapacitySweepDropsExpired(t *testing.T) {
	c, now := newTestCache(time.Second, 2)
	k1, _ := Key("/p", "a", nil)
	k2, _ := Key("/p", "b", nil)
	c.Put(k1, "/p", json.RawMessage(`1`), time.Second)
	c.Put(k2, "/p", json.RawMessage(`2`), time.Minute)

	*now = now.Add(2 * time.Second)
	k3, _ := Key("/p", "c", nil)
	c.Put(k3, "/p", json.RawMessage(`3`), time.Minute)

	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2 after sweep", c.Size())
	}
	if _, ok := c.Get(k2); !ok {
		t.Fatalf("unexpired entry swept")
	}
}

func TestEvictionHookCountsEveryDrop(t *testing.T) {
	c, now := newTestCache(time.Minute, 10)
	dropped := 0
	c.SetEvictionHook(func(n int) { dropped += n })

	k1, _ := Key("/p1", "a", nil)
	k2, _ := Key("/p1", "b", nil)
	k3, _ := Key("/p2", "a", nil)
	c.Put(k1, "/p1", json.RawMessage(`1`), time.Second)
	c.Put(k2, "/p1", json.RawMessage(`2`), time.Minute)
	c.Put(k3, "/p2", json.RawMessage(`3`), time.Minute)

	// Expiry on Get drops one.
	*now = now.Add(2 * time.Second)
	if _, ok := c.Get(k1); ok {
		t.Fatalf("expired entry returned")
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d after expiry, want 1", dropped)
	}

	// Project invalidation drops the remaining /p1 entry.
	if n := c.InvalidateProject("/p1"); n != 1 {
		t.Fatalf("invalidated %d, want 1", n)
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d after invalidate, want 2", dropped)
	}

	// Clear drops everything left.
	c.Clear()
	if dropped != 3 {
		t.Fatalf("dropped = %d after clear, want 3", dropped)
	}
	if ev := c.Stats().Evictions; ev != 3 {
		t.Fatalf("stats evictions = %d, want 3", ev)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	k, _ := Key("/p", "m", nil)
	c.Put(k, "/p", json.RawMessage(`1`), 0)
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("size = %d after Clear", c.Size())
	}
}
