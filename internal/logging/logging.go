// Package logging configures the process-wide slog logger. Every handler
// it builds redacts credentials before records reach the output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values are always replaced.
var sensitiveKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-admin-token":       true,
	"cookie":              true,
	"set-cookie":          true,
	"body":                true,
	"request_body":        true,
}

// sensitiveFragments redact any key that contains them. Keys ending in
// "token" are also redacted; token counts such as tokens_used are not.
var sensitiveFragments = []string{"secret", "password", "api_key", "apikey"}

// level is shared by every handler built here so SetLevel applies at runtime.
var level = new(slog.LevelVar)

// Options selects the handler built by New.
type Options struct {
	Level  string
	Format string // "json" (default) or "text"
	Output io.Writer
}

// New builds a redacting logger without touching the process default.
func New(opts Options) *slog.Logger {
	SetLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	hopts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		base = slog.NewTextHandler(out, hopts)
	} else {
		base = slog.NewJSONHandler(out, hopts)
	}
	return slog.New(&RedactingHandler{base: base})
}

// Setup builds a logger for opts and installs it as the slog default.
func Setup(opts Options) *slog.Logger {
	logger := New(opts)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of every logger built by this package.
// Unknown values select info.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Level reports the current level.
func Level() slog.Level { return level.Level() }

// RedactingHandler replaces the values of credential-like attributes.
type RedactingHandler struct {
	base slog.Handler
}

// NewRedactingHandler wraps base.
func NewRedactingHandler(base slog.Handler) *RedactingHandler {
	return &RedactingHandler{base: base}
}

func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.base.Enabled(ctx, l)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.base.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redact(a)
	}
	return &RedactingHandler{base: h.base.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	if sensitiveKeys[k] || strings.HasSuffix(k, "token") {
		return true
	}
	for _, f := range sensitiveFragments {
		if strings.Contains(k, f) {
			return true
		}
	}
	return false
}

// redact descends into groups so nested credentials are caught too.
func redact(a slog.Attr) slog.Attr {
	if sensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		clean := make([]any, len(members))
		for i, m := range members {
			clean[i] = redact(m)
		}
		return slog.Group(a.Key, clean...)
	}
	return a
}

// RequestLogger is chi middleware that logs one line per request. Bodies
// and credentials are never logged.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			lvl := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				lvl = slog.LevelError
			}
			logger.LogAttrs(r.Context(), lvl, "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
