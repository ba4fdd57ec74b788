package idempotency

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func ingestHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if n == 1 {
			_, _ = w.Write([]byte(`{"tracked":true,"n":1}`))
		} else {
			_, _ = w.Write([]byte(`{"tracked":true,"n":2}`))
		}
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	var calls atomic.Int32
	h := Middleware(c, nil)(ingestHandler(&calls, http.StatusAccepted))

	post(h, "/admin/ai-models/usage", "")
	post(h, "/admin/ai-models/usage", "")

	if calls.Load() != 2 {
		t.Fatalf("expected handler called twice, got %d", calls.Load())
	}
	if c.Len() != 0 {
		t.Fatal("nothing should be stored without a key")
	}
}

func TestMiddleware_DuplicateReplaysStoredResponse(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	var calls atomic.Int32
	var replays int
	h := Middleware(c, func() { replays++ })(ingestHandler(&calls, http.StatusAccepted))

	first := post(h, "/admin/ai-models/usage", "evt-1")
	second := post(h, "/admin/ai-models/usage", "evt-1")

	if calls.Load() != 1 {
		t.Fatalf("handler should run once, ran %d times", calls.Load())
	}
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %s vs %s", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderReplay) != "true" {
		t.Error("replayed response should carry the replay header")
	}
	if first.Header().Get(HeaderReplay) != "" {
		t.Error("original response should not carry the replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Error("stored headers should be replayed")
	}
	if replays != 1 {
		t.Errorf("expected one replay callback, got %d", replays)
	}
}

func TestMiddleware_KeysScopedToPath(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	var calls atomic.Int32
	h := Middleware(c, nil)(ingestHandler(&calls, http.StatusOK))

	post(h, "/a", "same")
	post(h, "/b", "same")

	if calls.Load() != 2 {
		t.Fatalf("same key on different paths must not collide, calls=%d", calls.Load())
	}
}

func TestMiddleware_FailuresAreNotStored(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	var calls atomic.Int32
	h := Middleware(c, nil)(ingestHandler(&calls, http.StatusInternalServerError))

	post(h, "/admin/ai-models/usage", "evt-2")
	rr := post(h, "/admin/ai-models/usage", "evt-2")

	if calls.Load() != 2 {
		t.Fatalf("a failed attempt should be retryable, calls=%d", calls.Load())
	}
	if rr.Header().Get(HeaderReplay) != "" {
		t.Error("failed responses must not be replayed")
	}
}

func TestMiddleware_PanicReleasesKey(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	h := Middleware(c, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() { _ = recover() }()
		post(h, "/admin/ai-models/usage", "evt-3")
	}()

	if _, started := c.Begin("POST /admin/ai-models/usage evt-3"); !started {
		t.Fatal("key should be released after a panic")
	}
	if c.Len() != 0 {
		t.Fatal("panicking request should store nothing")
	}
}

func TestMiddleware_ConcurrentSameKeyRunsOnce(t *testing.T) {
	c, _ := newCache(time.Minute, 10)
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})
	h := Middleware(c, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		close(entered)
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))

	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = post(h, "/admin/ai-models/usage", "evt-4")
	}()
	<-entered

	second := post(h, "/admin/ai-models/usage", "evt-4")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", second.Code)
	}

	close(release)
	wg.Wait()
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202 from first request, got %d", first.Code)
	}

	third := post(h, "/admin/ai-models/usage", "evt-4")
	if third.Code != http.StatusAccepted || third.Header().Get(HeaderReplay) != "true" {
		t.Fatalf("expected replayed 202, got %d replay=%q", third.Code, third.Header().Get(HeaderReplay))
	}
	if calls.Load() != 1 {
		t.Fatalf("handler should run once, ran %d", calls.Load())
	}
}
