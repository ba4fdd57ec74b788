package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// AdminToken holds the bearer token for the admin API. It can be replaced
// at runtime (SIGHUP reload).
type AdminToken struct {
	mu    sync.RWMutex
	token string
}

// NewAdminToken returns nil for an empty token so MountRoutes leaves the
// admin API open.
func NewAdminToken(token string) *AdminToken {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &AdminToken{token: token}
}

// Replace swaps in a new token. An empty token is ignored.
func (a *AdminToken) Replace(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Equal compares provided with the current token in constant time.
func (a *AdminToken) Equal(provided string) bool {
	a.mu.RLock()
	current := a.token
	a.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}

// Middleware requires "Authorization: Bearer <token>" (or X-Admin-Token).
func (a *AdminToken) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Admin-Token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			var ok bool
			provided, ok = strings.CutPrefix(auth, "Bearer ")
			if !ok {
				adminAuthFailed(w, r, "invalid authorization format")
				return
			}
		}
		if provided == "" {
			adminAuthFailed(w, r, "authorization required")
			return
		}
		if !a.Equal(provided) {
			adminAuthFailed(w, r, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func adminAuthFailed(w http.ResponseWriter, r *http.Request, msg string) {
	slog.Warn("admin auth failed",
		slog.String("reason", msg),
		slog.String("ip", r.RemoteAddr),
		slog.String("path", r.URL.Path))
	w.Header().Set("WWW-Authenticate", `Bearer realm="modelhub"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
