// Package ratelimit throttles usage ingestion with per-client token buckets.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxKeys = 10000
	idleAfter      = 10 * time.Minute
)

// Limiter refills each client's bucket continuously at perSecond tokens per
// second up to burst. Buckets idle for ten minutes are dropped when the
// table is full.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perSecond float64
	burst     float64
	maxKeys   int

	now      func() time.Time
	key      func(*http.Request) string
	rejected prometheus.Counter
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxKeys caps the number of tracked clients.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithKeyFunc selects how requests are grouped into buckets.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) { l.key = fn }
}

// WithRejectCounter counts every 429 on c.
func WithRejectCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.rejected = c }
}

// New returns a limiter admitting perSecond requests per client with bursts
// of up to burst. A burst below one is raised to one.
func New(perSecond float64, burst int, opts ...Option) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: perSecond,
		burst:     float64(burst),
		maxKeys:   defaultMaxKeys,
		now:       time.Now,
		key:       ClientKey,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ClientKey groups requests by X-Real-IP, falling back to the remote host.
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// allow takes one token for key. When the bucket is empty it returns the
// wait until the next token.
func (l *Limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.makeRoom(now)
		}
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.seen).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(l.burst, b.tokens+elapsed*l.perSecond)
		}
		b.seen = now
	}

	if b.tokens < 1 {
		if l.perSecond <= 0 {
			return false, time.Minute
		}
		wait := time.Duration((1 - b.tokens) / l.perSecond * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// makeRoom drops idle buckets, or the least recently seen one if none are
// idle. Caller holds l.mu.
func (l *Limiter) makeRoom(now time.Time) {
	var oldest string
	var oldestSeen time.Time
	for k, b := range l.buckets {
		if now.Sub(b.seen) > idleAfter {
			delete(l.buckets, k)
			continue
		}
		if oldest == "" || b.seen.Before(oldestSeen) {
			oldest, oldestSeen = k, b.seen
		}
	}
	if len(l.buckets) >= l.maxKeys && oldest != "" {
		delete(l.buckets, oldest)
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(l.key(r))
		if !ok {
			if l.rejected != nil {
				l.rejected.Inc()
			}
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
