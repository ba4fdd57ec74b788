package overview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lingotutor/modelhub/internal/registry"
)

// Status values reported for a provider when no check result exists.
const (
	StatusError   = "error"
	StatusUnknown = "unknown"

	SystemHealthy  = "healthy"
	SystemDegraded = "degraded"
)

// ProviderStatus is one provider's entry in the health view.
type ProviderStatus struct {
	Status    string    `json:"status"`
	Available bool      `json:"available"`
	Models    int       `json:"models"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Health is the system health view.
type Health struct {
	SystemHealth      string                    `json:"system_health"`
	Providers         map[string]ProviderStatus `json:"providers"`
	RouterStatus      string                    `json:"router_status"`
	FallbackProvider  string                    `json:"fallback_provider,omitempty"`
	FallbackAvailable bool                      `json:"fallback_available"`
	BudgetStatus      *BudgetSummary            `json:"budget_status,omitempty"`
	TotalModels       int                       `json:"total_models"`
	ActiveModels      int                       `json:"active_models"`
	CheckedAt         time.Time                 `json:"checked_at"`
}

// HealthCheckRun is the result of a forced check of every provider.
type HealthCheckRun struct {
	RunID          string                    `json:"run_id"`
	Results        map[string]ProviderStatus `json:"health_check_results"`
	SystemOverview Overview                  `json:"system_overview"`
	Timestamp      time.Time                 `json:"timestamp"`
	Message        string                    `json:"message"`
}

// ProviderInfo is one entry of the provider listing.
type ProviderInfo struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Status       string `json:"status"`
	Available    bool   `json:"available"`
	ModelsCount  int    `json:"models_count"`
	ActiveModels int    `json:"active_models"`
}

// checkProviders checks every provider concurrently. Errors and panics
// from the checker become an error status for that provider only.
func (a *Aggregator) checkProviders(ctx context.Context) map[string]ProviderStatus {
	results := make([]ProviderStatus, len(a.providers))
	var g errgroup.Group
	for i, provider := range a.providers {
		g.Go(func() error {
			results[i] = a.checkOne(ctx, provider)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]ProviderStatus, len(a.providers))
	for i, provider := range a.providers {
		out[provider] = results[i]
	}
	return out
}

func (a *Aggregator) checkOne(ctx context.Context, provider string) (ps ProviderStatus) {
	if a.checker == nil {
		return ProviderStatus{Status: StatusUnknown}
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("provider health check panicked",
				slog.String("provider", provider),
				slog.Any("panic", r),
			)
			ps = ProviderStatus{Status: StatusError, Error: fmt.Sprint(r)}
		}
	}()

	h, err := a.checker.CheckProviderHealth(ctx, provider)
	if err != nil {
		a.logger.Warn("provider health check failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return ProviderStatus{Status: StatusError, Error: err.Error()}
	}
	status := h.Status
	if status == "" {
		status = StatusUnknown
	}
	return ProviderStatus{
		Status:    status,
		Available: h.Available,
		LatencyMs: h.LatencyMs,
		Error:     h.LastError,
		CheckedAt: h.CheckedAt,
	}
}

// GetHealthStatus checks the fixed provider set and reports "healthy" when
// at least one provider is available.
func (a *Aggregator) GetHealthStatus(ctx context.Context) Health {
	ctx, span := a.tracer.Start(ctx, "overview.get_health_status")
	defer span.End()

	models := a.models.GetAll(registry.Filter{})
	h := Health{
		SystemHealth: SystemDegraded,
		Providers:    a.checkProviders(ctx),
		RouterStatus: StatusUnknown,
		TotalModels:  len(models),
		CheckedAt:    a.now().UTC(),
	}

	perProvider := make(map[string]int)
	for _, m := range models {
		perProvider[m.Provider]++
		if m.IsActive() {
			h.ActiveModels++
		}
	}
	available := 0
	for name, ps := range h.Providers {
		ps.Models = perProvider[name]
		h.Providers[name] = ps
		if ps.Available {
			available++
		}
	}
	if available > 0 {
		h.SystemHealth = SystemHealthy
	}
	span.SetAttributes(
		attribute.String("system_health", h.SystemHealth),
		attribute.Int("providers_available", available),
	)

	if a.router != nil {
		if rs, err := a.router.RouterStatus(ctx); err != nil {
			a.logger.Warn("router status unavailable", slog.String("error", err.Error()))
		} else {
			if rs.Mode != "" {
				h.RouterStatus = rs.Mode
			}
			h.FallbackProvider = rs.FallbackProvider
			h.FallbackAvailable = rs.FallbackAvailable
		}
	}

	if a.budget != nil {
		if st, err := a.budget.CurrentStatus(ctx); err == nil {
			h.BudgetStatus = summarize(st)
		}
	}
	return h
}

// RunHealthCheck forces a check of every provider and returns the results
// with a fresh overview.
func (a *Aggregator) RunHealthCheck(ctx context.Context) HealthCheckRun {
	runID := uuid.New().String()
	ctx, span := a.tracer.Start(ctx, "overview.run_health_check")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	results := a.checkProviders(ctx)
	a.logger.Info("health check completed",
		slog.String("run_id", runID),
		slog.Int("providers", len(results)),
	)
	return HealthCheckRun{
		RunID:          runID,
		Results:        results,
		SystemOverview: a.GetOverview(ctx),
		Timestamp:      a.now().UTC(),
		Message:        "Health check completed",
	}
}

// Providers lists the fixed provider set with health and model counts.
func (a *Aggregator) Providers(ctx context.Context) []ProviderInfo {
	checks := a.checkProviders(ctx)
	models := a.models.GetAll(registry.Filter{})

	out := make([]ProviderInfo, 0, len(a.providers))
	for _, name := range a.providers {
		info := ProviderInfo{
			Name:        name,
			DisplayName: titleCase(name),
			Status:      checks[name].Status,
			Available:   checks[name].Available,
		}
		for _, m := range models {
			if m.Provider != name {
				continue
			}
			info.ModelsCount++
			if m.Enabled {
				info.ActiveModels++
			}
		}
		out = append(out, info)
	}
	return out
}
