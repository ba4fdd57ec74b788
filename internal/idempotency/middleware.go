package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// HeaderKey is the request header naming the idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderReplay is set to "true" on replayed responses.
const HeaderReplay = "Idempotency-Replay"

// Middleware replays the stored response for a repeated key. Keys are scoped
// to method and path. Only 2xx responses are stored so failed attempts can
// be retried. A key already in flight gets 409. onReplay, when non-nil, runs
// for every replay.
func Middleware(cache *Cache, onReplay func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + raw

			stored, started := cache.Begin(key)
			if stored != nil {
				if onReplay != nil {
					onReplay()
				}
				replay(w, stored)
				return
			}
			if !started {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "request with this Idempotency-Key is in progress"})
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				var resp *Response
				if completed && rec.status >= 200 && rec.status < 300 {
					resp = &Response{Status: rec.status, Header: w.Header().Clone(), Body: rec.body.Bytes()}
				}
				cache.Finish(key, resp)
			}()
			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}

func replay(w http.ResponseWriter, resp *Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderReplay, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// recorder tees the response so it can be stored.
type recorder struct {
	http.ResponseWriter
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
