package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lingotutor/modelhub/internal/overview"
	"github.com/lingotutor/modelhub/internal/registry"
)

// UsageRequest is the JSON body for POST /usage. success defaults to true.
type UsageRequest struct {
	ModelID        string   `json:"model_id"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	TokensUsed     int64    `json:"tokens_used"`
	Cost           float64  `json:"cost"`
	Success        *bool    `json:"success"`
	QualityRating  *float64 `json:"quality_rating"`
	RequestType    string   `json:"request_type"`
	Language       string   `json:"language"`
}

func (u UsageRequest) event() registry.UsageEvent {
	ev := registry.UsageEvent{
		ModelID:        u.ModelID,
		ResponseTimeMs: u.ResponseTimeMs,
		TokensUsed:     u.TokensUsed,
		Cost:           u.Cost,
		Success:        true,
		QualityRating:  u.QualityRating,
		RequestType:    u.RequestType,
		Language:       u.Language,
	}
	if u.Success != nil {
		ev.Success = *u.Success
	}
	if ev.RequestType == "" {
		ev.RequestType = "conversation"
	}
	if ev.Language == "" {
		ev.Language = "en"
	}
	return ev
}

// UsageTrackHandler handles POST /usage (telemetry ingestion). Events for
// unknown models are dropped and answered with tracked=false.
func UsageTrackHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UsageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.ModelID) == "" {
			jsonError(w, "model_id is required", http.StatusBadRequest)
			return
		}
		ev := req.event()
		tracked, err := d.Registry.TrackUsage(r.Context(), ev)
		if err != nil {
			registryError(w, err)
			return
		}
		if !tracked {
			writeJSON(w, http.StatusOK, map[string]any{
				"tracked":  false,
				"model_id": ev.ModelID,
				"message":  "unknown model; event dropped",
			})
			return
		}
		view, _ := d.Registry.Get(ev.ModelID)
		observeUsage(d, view.Provider, ev)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"tracked":     true,
			"model_id":    ev.ModelID,
			"usage_stats": view.UsageStats,
		})
	}
}

// parseDate accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

// UsageStatsHandler handles GET /usage-stats?start_date=&end_date=&provider=&model_id=
func UsageStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := overview.UsageQuery{
			Provider: q.Get("provider"),
			ModelID:  q.Get("model_id"),
		}
		for name, dst := range map[string]*time.Time{"start_date": &query.Start, "end_date": &query.End} {
			v := q.Get(name)
			if v == "" {
				continue
			}
			t, err := parseDate(v)
			if err != nil {
				jsonError(w, fmt.Sprintf("%s: expected RFC 3339 or YYYY-MM-DD", name), http.StatusBadRequest)
				return
			}
			*dst = t
		}
		report, err := d.Overview.UsageStatistics(r.Context(), query)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ResetStatsHandler handles POST /reset-stats {"model_id": "...", "confirm": true}.
// Without model_id every model is reset.
func ResetStatsHandler(d Dependencies) http.HandlerFunc {
	type resetReq struct {
		ModelID string `json:"model_id"`
		Confirm bool   `json:"confirm"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Confirm {
			jsonError(w, "confirmation required for this operation", http.StatusBadRequest)
			return
		}

		var msg string
		count := 1
		if req.ModelID != "" {
			if err := d.Registry.ResetUsage(r.Context(), req.ModelID); err != nil {
				registryError(w, err)
				return
			}
			msg = "Statistics reset for model " + req.ModelID
			audit(d, r, "usage.reset", req.ModelID, "")
			countUpdate(d, req.ModelID, "reset")
		} else {
			n, err := d.Registry.ResetAllUsage(r.Context())
			if err != nil {
				registryError(w, err)
				return
			}
			count = n
			msg = "Statistics reset for all models"
			audit(d, r, "usage.reset_all", "*", fmt.Sprintf("%d models", n))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     msg,
			"reset_count": count,
			"timestamp":   time.Now().UTC(),
			"warning":     "This operation cannot be undone",
		})
	}
}
