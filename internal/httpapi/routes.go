package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lingotutor/modelhub/internal/budget"
	"github.com/lingotutor/modelhub/internal/events"
	"github.com/lingotutor/modelhub/internal/idempotency"
	"github.com/lingotutor/modelhub/internal/metrics"
	"github.com/lingotutor/modelhub/internal/overview"
	"github.com/lingotutor/modelhub/internal/ratelimit"
	"github.com/lingotutor/modelhub/internal/registry"
	"github.com/lingotutor/modelhub/internal/store"
)

// AdminPrefix is the mount point of the admin API.
const AdminPrefix = "/admin/ai-models"

type Dependencies struct {
	Registry *registry.Registry
	Overview *overview.Aggregator
	Store    store.Store
	Metrics  *metrics.Registry
	EventBus *events.Bus
	Logger   *slog.Logger

	// Budget is invalidated after usage is tracked (nil if not configured).
	Budget *budget.Manager

	// AdminToken guards the admin API; nil leaves it open.
	AdminToken *AdminToken

	// Usage ingestion guards (nil disables each).
	UsageLimiter *ratelimit.Limiter
	UsageReplay  *idempotency.Cache
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		models := len(d.Registry.GetAll(registry.Filter{}))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"models": models,
		})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route(AdminPrefix, func(r chi.Router) {
		if d.AdminToken != nil {
			r.Use(d.AdminToken.Middleware)
		}

		r.Get("/overview", OverviewHandler(d))

		r.Get("/models", ModelsListHandler(d))
		r.Post("/models", ModelsCreateHandler(d))
		r.Get("/models/{id}", ModelGetHandler(d))
		r.Put("/models/{id}", ModelUpdateHandler(d))
		r.Post("/models/{id}/toggle", ModelToggleHandler(d))
		r.Post("/models/{id}/priority", ModelPriorityHandler(d))

		r.Get("/performance/{id}", PerformanceReportHandler(d))
		r.Get("/performance/{id}/logs", PerformanceLogsHandler(d))
		r.Post("/optimize", OptimizeHandler(d))

		r.Group(func(r chi.Router) {
			if d.UsageLimiter != nil {
				r.Use(d.UsageLimiter.Middleware)
			}
			if d.UsageReplay != nil {
				var onReplay func()
				if d.Metrics != nil {
					onReplay = d.Metrics.IngestReplays.Inc
				}
				r.Use(idempotency.Middleware(d.UsageReplay, onReplay))
			}
			r.Post("/usage", UsageTrackHandler(d))
		})
		r.Get("/usage-stats", UsageStatsHandler(d))
		r.Post("/reset-stats", ResetStatsHandler(d))

		r.Get("/health", HealthHandler(d))
		r.Post("/health-check", HealthCheckHandler(d))
		r.Get("/providers", ProvidersHandler(d))
		r.Get("/categories", CategoriesHandler(d))

		r.Get("/export", ExportHandler(d))
		r.Get("/audit", AuditLogsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})
}
