package overview

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/modelhub/internal/registry"
	"github.com/lingotutor/modelhub/internal/store"
)

const defaultUsageWindow = 30 * 24 * time.Hour

// UsageQuery selects the usage statistics window and models. Zero times
// default to the trailing 30 days ending now.
type UsageQuery struct {
	Start    time.Time
	End      time.Time
	Provider string
	ModelID  string
}

// Period is the resolved statistics window.
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Days      int       `json:"days"`
}

// UsageSummary aggregates the window across the selected models.
type UsageSummary struct {
	TotalModels       int     `json:"total_models"`
	TotalRequests     int64   `json:"total_requests"`
	TotalCost         float64 `json:"total_cost"`
	AvgSuccessRate    float64 `json:"avg_success_rate"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// ProviderUsage aggregates the window per provider.
type ProviderUsage struct {
	Models         int     `json:"models"`
	TotalRequests  int64   `json:"total_requests"`
	TotalCost      float64 `json:"total_cost"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
}

// ModelUsage is a model with its windowed aggregate.
type ModelUsage struct {
	registry.ModelView
	Window      store.PerformanceAggregate `json:"window"`
	SuccessRate float64                    `json:"window_success_rate"`
}

// UsageReport is the usage statistics view.
type UsageReport struct {
	Period            Period                   `json:"period"`
	Summary           UsageSummary             `json:"summary"`
	ProviderBreakdown map[string]ProviderUsage `json:"provider_breakdown"`
	ModelDetails      []ModelUsage             `json:"model_details"`
}

func windowSuccessRate(a store.PerformanceAggregate) float64 {
	if a.Requests == 0 {
		return 0
	}
	return float64(a.Requests-a.Errors) / float64(a.Requests)
}

// UsageStatistics aggregates performance logs over the query window.
// Success rates are averaged per model, so models without traffic pull
// the average down.
func (a *Aggregator) UsageStatistics(ctx context.Context, q UsageQuery) (UsageReport, error) {
	end := q.End
	if end.IsZero() {
		end = a.now().UTC()
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-defaultUsageWindow)
	}
	if !start.Before(end) {
		return UsageReport{}, fmt.Errorf("usage window: start %s is not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	aggs, err := a.models.WindowedUsage(ctx, start, end)
	if err != nil {
		return UsageReport{}, fmt.Errorf("usage window: %w", err)
	}
	byModel := make(map[string]store.PerformanceAggregate, len(aggs))
	for _, ag := range aggs {
		byModel[ag.ModelID] = ag.PerformanceAggregate
	}

	rep := UsageReport{
		Period: Period{
			StartDate: start,
			EndDate:   end,
			Days:      int(end.Sub(start).Hours() / 24),
		},
		ProviderBreakdown: make(map[string]ProviderUsage),
		ModelDetails:      []ModelUsage{},
	}

	var totalCost, rateSum float64
	for _, m := range a.models.GetAll(registry.Filter{Provider: q.Provider}) {
		if q.ModelID != "" && m.ID != q.ModelID {
			continue
		}
		w := byModel[m.ID]
		rate := windowSuccessRate(w)
		rep.ModelDetails = append(rep.ModelDetails, ModelUsage{ModelView: m, Window: w, SuccessRate: rate})

		rep.Summary.TotalModels++
		rep.Summary.TotalRequests += w.Requests
		totalCost += w.TotalCost
		rateSum += rate

		p := rep.ProviderBreakdown[m.Provider]
		p.Models++
		p.TotalRequests += w.Requests
		p.TotalCost += w.TotalCost
		p.AvgSuccessRate += rate
		rep.ProviderBreakdown[m.Provider] = p
	}

	for name, p := range rep.ProviderBreakdown {
		p.AvgSuccessRate /= float64(p.Models)
		p.TotalCost = round(p.TotalCost, 4)
		rep.ProviderBreakdown[name] = p
	}
	rep.Summary.TotalCost = round(totalCost, 4)
	rep.Summary.AvgSuccessRate = round(rateSum/float64(max(rep.Summary.TotalModels, 1)), 3)
	rep.Summary.AvgCostPerRequest = round(totalCost/float64(max(rep.Summary.TotalRequests, 1)), 6)
	return rep, nil
}
