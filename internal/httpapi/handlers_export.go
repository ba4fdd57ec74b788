package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/lingotutor/modelhub/internal/registry"
)

type exportedModel struct {
	registry.ModelView
	UsageStats *registry.UsageSummary `json:"usage_stats,omitempty"`
}

var exportColumns = []string{"id", "provider", "model_name", "display_name", "category", "status", "enabled", "priority"}

var exportStatsColumns = []string{"total_requests", "success_rate", "total_cost", "avg_response_time"}

// ExportHandler handles GET /export?format=json|csv&include_stats=true|false
func ExportHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		if format != "json" && format != "csv" {
			jsonError(w, "format must be json or csv", http.StatusBadRequest)
			return
		}
		includeStats, err := boolParam(r, "include_stats", true)
		if err != nil {
			jsonError(w, "include_stats: "+err.Error(), http.StatusBadRequest)
			return
		}

		models := d.Registry.GetAll(registry.Filter{})
		if format == "csv" {
			writeCSV(w, models, includeStats)
			return
		}

		out := make([]exportedModel, len(models))
		for i, m := range models {
			out[i] = exportedModel{ModelView: m}
			if includeStats {
				stats := m.UsageStats
				out[i].UsageStats = &stats
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"export_timestamp": time.Now().UTC(),
			"total_models":     len(out),
			"models":           out,
		})
	}
}

func writeCSV(w http.ResponseWriter, models []registry.ModelView, includeStats bool) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=ai_models_export.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	header := exportColumns
	if includeStats {
		header = append(append([]string{}, exportColumns...), exportStatsColumns...)
	}
	_ = cw.Write(header)
	for _, m := range models {
		row := []string{
			m.ID,
			m.Provider,
			m.ModelName,
			m.DisplayName,
			string(m.Category),
			string(m.Status),
			strconv.FormatBool(m.Enabled),
			strconv.Itoa(m.Priority),
		}
		if includeStats {
			row = append(row,
				strconv.FormatInt(m.UsageStats.TotalRequests, 10),
				strconv.FormatFloat(m.UsageStats.SuccessRate, 'f', -1, 64),
				strconv.FormatFloat(m.UsageStats.TotalCost, 'f', -1, 64),
				strconv.FormatFloat(m.UsageStats.AvgResponseTime, 'f', -1, 64),
			)
		}
		_ = cw.Write(row)
	}
	cw.Flush()
	warnOnErr("export_csv", cw.Error())
}
