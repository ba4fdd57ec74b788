package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lingotutor/modelhub/internal/registry"
	"github.com/lingotutor/modelhub/internal/store"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// registryError maps registry errors onto HTTP statuses.
func registryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrModelNotFound):
		jsonError(w, "model not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrModelExists):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, registry.ErrInvalidUpdate):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("registry operation failed", slog.String("error", err.Error()))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// audit records an admin mutation. Failures are logged, never returned.
func audit(d Dependencies, r *http.Request, action, resource, detail string) {
	if d.Store == nil {
		return
	}
	warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Resource:  resource,
		Detail:    detail,
		RequestID: middleware.GetReqID(r.Context()),
	}))
}

// countUpdate increments the model update counter.
func countUpdate(d Dependencies, id, action string) {
	if d.Metrics != nil {
		d.Metrics.ModelUpdates.WithLabelValues(id, action).Inc()
	}
}

// observeUsage feeds a tracked event into metrics and the budget.
func observeUsage(d Dependencies, provider string, ev registry.UsageEvent) {
	d.Metrics.ObserveUsage(ev.ModelID, provider, ev.Success, ev.ResponseTimeMs, ev.TokensUsed, ev.Cost)
	if d.Budget != nil {
		d.Budget.Invalidate()
	}
}

// pageParams reads limit/offset with the given default limit and a cap.
func pageParams(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit, offset = defLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// boolParam parses a query flag, returning def when absent and an error
// when malformed.
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}
