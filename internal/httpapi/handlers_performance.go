package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lingotutor/modelhub/internal/registry"
)

const (
	minReportDays = 1
	maxReportDays = 365
)

// PerformanceReportHandler handles GET /performance/{id}?days=1..365.
func PerformanceReportHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		days := 30
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < minReportDays || n > maxReportDays {
				jsonError(w, fmt.Sprintf("days must be an integer in [%d,%d]", minReportDays, maxReportDays), http.StatusBadRequest)
				return
			}
			days = n
		}
		report, err := d.Registry.GenerateReport(r.Context(), id, days)
		if err != nil {
			registryError(w, err)
			return
		}
		if report == nil {
			jsonError(w, "no performance data available for this model", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	}
}

// PerformanceLogsHandler handles GET /performance/{id}/logs?limit=N&offset=N
func PerformanceLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit, offset := pageParams(r, 100, 1000)
		logs, err := d.Registry.PerformanceLogs(r.Context(), id, limit, offset)
		if err != nil {
			registryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "limit": limit, "offset": offset})
	}
}

// OptimizeHandler handles POST /optimize.
func OptimizeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registry.OptimizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Language == "" || req.UseCase == "" {
			jsonError(w, "language and use_case are required", http.StatusBadRequest)
			return
		}
		if req.Limit < 0 {
			jsonError(w, "limit must not be negative", http.StatusBadRequest)
			return
		}
		if d.Metrics != nil {
			d.Metrics.OptimizeRequests.WithLabelValues(req.Language, req.UseCase).Inc()
		}

		candidates := d.Registry.Optimize(req)
		type recommendation struct {
			registry.ModelView
			Score     float64                 `json:"optimization_score"`
			Breakdown registry.ScoreBreakdown `json:"score_breakdown"`
		}
		recs := make([]recommendation, 0, len(candidates))
		for _, c := range candidates {
			view, ok := d.Registry.Get(c.ModelID)
			if !ok {
				continue
			}
			recs = append(recs, recommendation{ModelView: view, Score: c.Score, Breakdown: c.Breakdown})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recommendations":     recs,
			"optimization_params": req,
			"message":             fmt.Sprintf("Found %d optimized models for %s in %s", len(recs), req.UseCase, req.Language),
		})
	}
}
