package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/registry"
)

// modelFilter builds a registry filter from query parameters.
func modelFilter(r *http.Request) (registry.Filter, error) {
	q := r.URL.Query()
	f := registry.Filter{
		Provider: strings.TrimSpace(q.Get("provider")),
		Search:   strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("category"); v != "" {
		c, err := catalog.ParseCategory(v)
		if err != nil {
			return f, err
		}
		f.Category = c
	}
	if v := q.Get("status"); v != "" {
		s, err := catalog.ParseStatus(strings.ToLower(v))
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	enabledOnly, err := boolParam(r, "enabled_only", false)
	if err != nil {
		return f, fmt.Errorf("enabled_only: %w", err)
	}
	f.EnabledOnly = enabledOnly
	return f, nil
}

// ModelsListHandler handles GET /models?category=&provider=&status=&enabled_only=&search=
func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := modelFilter(r)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		models := d.Registry.GetAll(f)
		writeJSON(w, http.StatusOK, map[string]any{"models": models, "total": len(models)})
	}
}

// ModelsCreateHandler handles POST /models. Omitted fields take the
// catalog defaults.
func ModelsCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := catalog.Template()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		view, err := d.Registry.Create(r.Context(), cfg)
		if err != nil {
			registryError(w, err)
			return
		}
		audit(d, r, "model.create", view.ID, "")
		countUpdate(d, view.ID, "create")
		writeJSON(w, http.StatusCreated, map[string]any{
			"model":   view,
			"message": "Model created successfully",
		})
	}
}

// ModelGetHandler handles GET /models/{id}: the model plus its 30-day report.
func ModelGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		view, ok := d.Registry.Get(id)
		if !ok {
			jsonError(w, "model not found", http.StatusNotFound)
			return
		}
		report, err := d.Registry.GenerateReport(r.Context(), id, 0)
		if err != nil {
			registryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"model":              view,
			"performance_report": report,
		})
	}
}

// ModelUpdateHandler handles PUT /models/{id} with a partial JSON object.
func ModelUpdateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var patch registry.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			jsonError(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		// null values mean "leave unchanged".
		for k, v := range patch {
			if v == nil {
				delete(patch, k)
			}
		}
		view, err := d.Registry.Update(r.Context(), id, patch)
		if err != nil {
			registryError(w, err)
			return
		}
		audit(d, r, "model.update", id, strings.Join(patch.Fields(), ","))
		countUpdate(d, id, "update")
		writeJSON(w, http.StatusOK, map[string]any{
			"model":   view,
			"message": "Model updated successfully",
		})
	}
}

// ModelToggleHandler handles POST /models/{id}/toggle.
func ModelToggleHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		view, err := d.Registry.Toggle(r.Context(), id)
		if err != nil {
			registryError(w, err)
			return
		}
		state := "disabled"
		if view.Enabled {
			state = "enabled"
		}
		audit(d, r, "model.toggle", id, state)
		countUpdate(d, id, "toggle")
		writeJSON(w, http.StatusOK, map[string]any{
			"model":   view,
			"message": fmt.Sprintf("Model %s successfully", state),
		})
	}
}

// ModelPriorityHandler handles POST /models/{id}/priority. The body is
// either {"priority": N} or a bare number.
func ModelPriorityHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		priority, err := decodePriority(r)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		view, err := d.Registry.SetPriority(r.Context(), id, priority)
		if err != nil {
			registryError(w, err)
			return
		}
		audit(d, r, "model.priority", id, fmt.Sprintf("%d", priority))
		countUpdate(d, id, "priority")
		slog.Debug("model priority set", slog.String("model_id", id), slog.Int("priority", priority))
		writeJSON(w, http.StatusOK, map[string]any{
			"model":   view,
			"message": fmt.Sprintf("Model priority set to %d", priority),
		})
	}
}

func decodePriority(r *http.Request) (int, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return 0, fmt.Errorf("bad json: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	var n int
	if len(raw) > 0 && raw[0] == '{' {
		var body struct {
			Priority *int `json:"priority"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return 0, fmt.Errorf("priority must be an integer")
		}
		if body.Priority == nil {
			return 0, fmt.Errorf("priority is required")
		}
		return *body.Priority, nil
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("priority must be an integer")
	}
	return n, nil
}
