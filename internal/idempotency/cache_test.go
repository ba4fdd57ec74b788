package idempotency

import (
	"net/http"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCache(ttl time.Duration, max int) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)}
	return New(ttl, max, WithClock(clk.now)), clk
}

func store(c *Cache, key string, body string) {
	if _, ok := c.Begin(key); !ok {
		panic("key already claimed: " + key)
	}
	c.Finish(key, &Response{Status: http.StatusAccepted, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(body)})
}

func TestCache_StoreAndGet(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	store(c, "k1", `{"tracked":true}`)

	e, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected cache hit for k1")
	}
	if string(e.Body) != `{"tracked":true}` || e.Status != http.StatusAccepted {
		t.Fatalf("unexpected entry: %d %s", e.Status, e.Body)
	}
	if e.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected header: %v", e.Header)
	}
}

func TestCache_Miss(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected cache miss")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clk := newCache(time.Minute, 10)
	store(c, "k", "x")

	clk.advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be live")
	}
	clk.advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on access, len=%d", c.Len())
	}
}

func TestCache_BeginClaimsKey(t *testing.T) {
	c, _ := newCache(time.Minute, 10)

	if resp, started := c.Begin("k"); resp != nil || !started {
		t.Fatal("first Begin should claim the key")
	}
	if resp, started := c.Begin("k"); resp != nil || started {
		t.Fatal("second Begin should see the key in flight")
	}
	c.Finish("k", nil)
	if _, started := c.Begin("k"); !started {
		t.Fatal("key should be claimable after a failed attempt")
	}
}

func TestCache_BeginReturnsStored(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	store(c, "k", "done")

	resp, started := c.Begin("k")
	if started || resp == nil || string(resp.Body) != "done" {
		t.Fatalf("expected stored response, got %v started=%v", resp, started)
	}
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clk := newCache(time.Hour, 2)
	store(c, "a", "1")
	clk.advance(time.Second)
	store(c, "b", "2")
	clk.advance(time.Second)
	store(c, "c", "3")

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to be kept", k)
		}
	}
}

func TestCache_EvictPrefersExpired(t *testing.T) {
	c, clk := newCache(time.Minute, 2)
	store(c, "stale", "1")
	clk.advance(2 * time.Minute)
	store(c, "fresh", "2")
	store(c, "newest", "3")

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("live entry should survive when an expired one can go")
	}
}
