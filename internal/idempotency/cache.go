// Package idempotency replays stored responses for requests that repeat an
// Idempotency-Key, so a client retrying a usage report is counted once.
package idempotency

import (
	"net/http"
	"sync"
	"time"
)

// Response is a stored reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	stored time.Time
}

// Cache holds responses for ttl, evicting the oldest beyond maxEntries.
// Expired entries are dropped on access; no goroutine is started.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*Response
	inflight map[string]struct{}

	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &Cache{
		entries:    make(map[string]*Response),
		inflight:   make(map[string]struct{}),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the stored response for key if it has not expired.
func (c *Cache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

func (c *Cache) lookup(key string) (*Response, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.stored) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

// Begin claims key for a request. It returns the stored response when one
// exists; otherwise started reports whether the caller now owns the key.
// A false started with a nil response means another request holds it.
func (c *Cache) Begin(key string) (resp *Response, started bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookup(key); ok {
		return e, false
	}
	if _, busy := c.inflight[key]; busy {
		return nil, false
	}
	c.inflight[key] = struct{}{}
	return nil, true
}

// Finish releases key and stores resp when it is non-nil.
func (c *Cache) Finish(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)
	if resp == nil {
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict()
	}
	resp.stored = c.now()
	c.entries[key] = resp
}

// Len reports the number of stored responses, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops expired entries, then the oldest if still full. Caller holds c.mu.
func (c *Cache) evict() {
	now := c.now()
	var oldest string
	var oldestAt time.Time
	for k, e := range c.entries {
		if now.Sub(e.stored) > c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldest == "" || e.stored.Before(oldestAt) {
			oldest, oldestAt = k, e.stored
		}
	}
	if len(c.entries) >= c.maxEntries && oldest != "" {
		delete(c.entries, oldest)
	}
}
