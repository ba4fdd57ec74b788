// Package overview composes dashboard views from the registry, the budget
// manager and provider health. It holds no state of its own; every call
// recomputes from its collaborators.
package overview

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lingotutor/modelhub/internal/budget"
	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/health"
	"github.com/lingotutor/modelhub/internal/registry"
	"github.com/lingotutor/modelhub/internal/store"
)

const topModelCount = 5

// ModelSource is the registry surface the aggregator reads.
type ModelSource interface {
	GetAll(f registry.Filter) []registry.ModelView
	WindowedUsage(ctx context.Context, from, to time.Time) ([]store.ModelAggregate, error)
}

// BudgetSource reports the month-to-date budget position.
type BudgetSource interface {
	CurrentStatus(ctx context.Context) (budget.Status, error)
}

// ProviderHealthChecker checks a single provider.
type ProviderHealthChecker interface {
	CheckProviderHealth(ctx context.Context, provider string) (health.ProviderHealth, error)
}

// RouterStatusSource reports routing mode and fallback readiness.
type RouterStatusSource interface {
	RouterStatus(ctx context.Context) (health.RouterStatus, error)
}

// Aggregator builds overview, health and usage views.
type Aggregator struct {
	models    ModelSource
	budget    BudgetSource
	checker   ProviderHealthChecker
	router    RouterStatusSource
	providers []string
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithBudget(b BudgetSource) Option { return func(a *Aggregator) { a.budget = b } }

func WithHealthChecker(c ProviderHealthChecker) Option {
	return func(a *Aggregator) { a.checker = c }
}

func WithRouterStatus(r RouterStatusSource) Option { return func(a *Aggregator) { a.router = r } }

// WithProviders replaces the provider set checked by GetHealthStatus.
func WithProviders(p []string) Option { return func(a *Aggregator) { a.providers = p } }

func WithLogger(l *slog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// New returns an Aggregator over models. Collaborators left unset are
// reported as unavailable.
func New(models ModelSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		models:    models,
		providers: catalog.Providers,
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    otel.Tracer("github.com/lingotutor/modelhub/internal/overview"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Totals are registry-wide counters.
type Totals struct {
	TotalModels       int     `json:"total_models"`
	ActiveModels      int     `json:"active_models"`
	TotalRequests     int64   `json:"total_requests"`
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// BudgetSummary is the budget slice shown on the overview.
type BudgetSummary struct {
	RemainingBudget float64           `json:"remaining_budget"`
	PercentageUsed  float64           `json:"percentage_used"`
	AlertLevel      budget.AlertLevel `json:"alert_level"`
}

// ProviderRollup aggregates models per provider.
type ProviderRollup struct {
	Models        int     `json:"models"`
	ActiveModels  int     `json:"active_models"`
	TotalRequests int64   `json:"total_requests"`
	TotalCost     float64 `json:"total_cost"`
}

// TopModel is one entry in the most-used list.
type TopModel struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"display_name"`
	Provider      string  `json:"provider"`
	TotalRequests int64   `json:"total_requests"`
	QualityScore  float64 `json:"quality_score"`
}

// Overview is the system summary.
type Overview struct {
	Overview     Totals                    `json:"overview"`
	BudgetStatus *BudgetSummary            `json:"budget_status,omitempty"`
	BudgetError  string                    `json:"budget_error,omitempty"`
	Providers    map[string]ProviderRollup `json:"providers"`
	TopModels    []TopModel                `json:"top_models"`
	Categories   map[string]int            `json:"categories"`
	GeneratedAt  time.Time                 `json:"generated_at"`
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// GetOverview summarises the registry. A failing budget source omits the
// budget block and records the error text.
func (a *Aggregator) GetOverview(ctx context.Context) Overview {
	ctx, span := a.tracer.Start(ctx, "overview.get_overview")
	defer span.End()

	models := a.models.GetAll(registry.Filter{})
	ov := Overview{
		Providers:   make(map[string]ProviderRollup),
		Categories:  make(map[string]int),
		GeneratedAt: a.now().UTC(),
	}

	var totalCost float64
	for _, m := range models {
		ov.Overview.TotalModels++
		if m.IsActive() {
			ov.Overview.ActiveModels++
		}
		ov.Overview.TotalRequests += m.UsageStats.TotalRequests
		totalCost += m.UsageStats.TotalCost

		p := ov.Providers[m.Provider]
		p.Models++
		if m.IsActive() {
			p.ActiveModels++
		}
		p.TotalRequests += m.UsageStats.TotalRequests
		p.TotalCost += m.UsageStats.TotalCost
		ov.Providers[m.Provider] = p
	}
	ov.Overview.TotalCost = round(totalCost, 4)
	ov.Overview.AvgCostPerRequest = round(totalCost/float64(max(ov.Overview.TotalRequests, 1)), 6)

	for _, c := range catalog.AllCategories() {
		ov.Categories[string(c)] = 0
	}
	for _, m := range models {
		ov.Categories[string(m.Category)]++
	}

	ov.TopModels = topModels(models)

	if a.budget == nil {
		ov.BudgetError = "budget source not configured"
	} else if st, err := a.budget.CurrentStatus(ctx); err != nil {
		a.logger.Warn("budget status unavailable", slog.String("error", err.Error()))
		ov.BudgetError = err.Error()
	} else {
		ov.BudgetStatus = summarize(st)
	}
	return ov
}

func summarize(st budget.Status) *BudgetSummary {
	level := st.AlertLevel
	if level == "" {
		level = budget.AlertGreen
	}
	return &BudgetSummary{
		RemainingBudget: st.RemainingBudget,
		PercentageUsed:  st.PercentageUsed,
		AlertLevel:      level,
	}
}

// topModels orders by (total_requests, quality_score) descending; ties
// keep registry order.
func topModels(models []registry.ModelView) []TopModel {
	sorted := append([]registry.ModelView(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.UsageStats.TotalRequests != b.UsageStats.TotalRequests {
			return a.UsageStats.TotalRequests > b.UsageStats.TotalRequests
		}
		return a.QualityScore > b.QualityScore
	})
	if len(sorted) > topModelCount {
		sorted = sorted[:topModelCount]
	}
	out := make([]TopModel, len(sorted))
	for i, m := range sorted {
		out[i] = TopModel{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			Provider:      m.Provider,
			TotalRequests: m.UsageStats.TotalRequests,
			QualityScore:  m.QualityScore,
		}
	}
	return out
}

// CategoryInfo describes one model category.
type CategoryInfo struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Categories lists every model category.
func (a *Aggregator) Categories() []CategoryInfo {
	out := make([]CategoryInfo, 0, len(catalog.AllCategories()))
	for _, c := range catalog.AllCategories() {
		v := string(c)
		out = append(out, CategoryInfo{
			Value:       v,
			Label:       titleCase(strings.ReplaceAll(v, "_", " ")),
			Description: "Models optimized for " + v + " tasks",
		})
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
