package httpapi

import (
	"net/http"
)

// OverviewHandler handles GET /overview.
func OverviewHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Overview.GetOverview(r.Context()))
	}
}

// HealthHandler handles GET /health.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Overview.GetHealthStatus(r.Context()))
	}
}

// HealthCheckHandler handles POST /health-check.
func HealthCheckHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := d.Overview.RunHealthCheck(r.Context())
		audit(d, r, "health.check", "providers", run.RunID)
		writeJSON(w, http.StatusOK, run)
	}
}

// ProvidersHandler handles GET /providers.
func ProvidersHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := d.Overview.Providers(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"providers": providers, "total": len(providers)})
	}
}

// CategoriesHandler handles GET /categories.
func CategoriesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": d.Overview.Categories()})
	}
}

// AuditLogsHandler handles GET /audit?limit=N&offset=N
func AuditLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeJSON(w, http.StatusOK, map[string]any{"logs": []any{}})
			return
		}
		limit, offset := pageParams(r, 100, 1000)
		logs, err := d.Store.ListAuditLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}
