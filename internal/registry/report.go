package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/store"
)

const (
	defaultReportDays = 30
	maxReportDays     = 3650

	costEpsilon    = 0.0001
	secondsEpsilon = 0.1

	// unranked is the rank given to models absent from the enabled set.
	unranked = 999

	trendThreshold = 0.10
)

// Trend labels.
const (
	TrendImproving  = "improving"
	TrendDeclining  = "declining"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Optimization suggestions.
const (
	SuggestCost        = "Consider for cost-sensitive workloads"
	SuggestLatency     = "Monitor response time for time-critical applications"
	SuggestReliability = "Investigate reliability issues"
)

type reportKey struct {
	modelID string
	days    int
}

type cachedReport struct {
	report    catalog.PerformanceReport
	expiresAt time.Time
}

// reportCache holds generated reports for a short TTL. gen advances on
// every invalidation so a report computed from an older snapshot is not
// stored.
type reportCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	gen     uint64
	entries map[reportKey]cachedReport
}

func (c *reportCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func newReportCache(ttl time.Duration) *reportCache {
	return &reportCache{ttl: ttl, entries: make(map[reportKey]cachedReport)}
}

func (c *reportCache) get(k reportKey, now time.Time) (*catalog.PerformanceReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || !now.Before(e.expiresAt) {
		delete(c.entries, k)
		return nil, false
	}
	rep := cloneReport(e.report)
	return &rep, true
}

// put stores rep unless the cache was invalidated after gen was read.
func (c *reportCache) put(k reportKey, rep catalog.PerformanceReport, now time.Time, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.entries[k] = cachedReport{report: cloneReport(rep), expiresAt: now.Add(c.ttl)}
}

func (c *reportCache) clear() {
	c.mu.Lock()
	c.gen++
	clear(c.entries)
	c.mu.Unlock()
}

// invalidate drops every cached window for one model.
func (c *reportCache) invalidate(modelID string) {
	c.mu.Lock()
	c.gen++
	for k := range c.entries {
		if k.modelID == modelID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func cloneReport(r catalog.PerformanceReport) catalog.PerformanceReport {
	c := r
	c.RecommendedFor = append([]string(nil), r.RecommendedFor...)
	c.OptimizationSuggestions = append([]string(nil), r.OptimizationSuggestions...)
	return c
}

// GenerateReport builds a performance report for id over the trailing
// days (30 when days <= 0, at most 3650). It returns ErrModelNotFound for unknown
// models and a nil report when the window holds no log rows.
func (r *Registry) GenerateReport(ctx context.Context, id string, days int) (*catalog.PerformanceReport, error) {
	if days <= 0 {
		days = defaultReportDays
	}
	days = min(days, maxReportDays)
	gen := r.reports.generation()
	v, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	now := r.clock()
	key := reportKey{modelID: id, days: days}
	if rep, ok := r.reports.get(key, now); ok {
		return rep, nil
	}

	from := now.Add(-time.Duration(days) * 24 * time.Hour)
	agg, err := r.store.AggregatePerformance(ctx, id, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("aggregate performance %s: %w", id, err)
	}
	if agg.Requests == 0 {
		return nil, nil
	}

	cfg := v.ModelConfiguration
	quality := valueOr(agg.AvgQuality, cfg.QualityScore)
	latency := valueOr(agg.AvgResponseTime, cfg.AvgResponseTimeMs)
	cost := valueOr(agg.AvgCost, cfg.CostPer1KTokens)

	rep := catalog.PerformanceReport{
		ModelID:           id,
		ReportDate:        now,
		PeriodDays:        days,
		Requests:          agg.Requests,
		AvgResponseTimeMs: latency,
		AvgQuality:        quality,
		AvgCost:           cost,
		TotalTokens:       agg.TotalTokens,
		CostEfficiency:    quality / math.Max(cost, costEpsilon),
		SpeedEfficiency:   quality / math.Max(latency/1000, secondsEpsilon),
		ReliabilityScore:  cfg.ReliabilityScore,
	}

	rep.CostRank, rep.SpeedRank, rep.QualityRank = r.ranks(id)
	rep.OverallRank = overallRank(rep.CostRank, rep.SpeedRank, rep.QualityRank)

	mid := from.Add(now.Sub(from) / 2)
	first, err := r.store.AggregatePerformance(ctx, id, from, mid)
	if err != nil {
		return nil, fmt.Errorf("aggregate first half %s: %w", id, err)
	}
	second, err := r.store.AggregatePerformance(ctx, id, mid, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("aggregate second half %s: %w", id, err)
	}
	rep.PerformanceTrend = performanceTrend(first, second)
	rep.UsageTrend = usageTrend(first.Requests, second.Requests)

	usage, _ := r.Usage(id)
	rep.RecommendedFor = recommendations(cfg)
	rep.OptimizationSuggestions = suggestions(cfg, usage)

	r.reports.put(key, rep, now, gen)
	return &rep, nil
}

func valueOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

// ranks returns id's 1-based position among enabled models by ascending
// cost, ascending configured latency and descending quality.
func (r *Registry) ranks(id string) (cost, speed, quality int) {
	enabled := r.Configurations(Filter{EnabledOnly: true})
	rank := func(less func(a, b catalog.ModelConfiguration) bool) int {
		sorted := append([]catalog.ModelConfiguration(nil), enabled...)
		sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
		for i, m := range sorted {
			if m.ID() == id {
				return i + 1
			}
		}
		return unranked
	}
	cost = rank(func(a, b catalog.ModelConfiguration) bool { return a.CostPer1KTokens < b.CostPer1KTokens })
	speed = rank(func(a, b catalog.ModelConfiguration) bool { return a.AvgResponseTimeMs < b.AvgResponseTimeMs })
	quality = rank(func(a, b catalog.ModelConfiguration) bool { return a.QualityScore > b.QualityScore })
	return cost, speed, quality
}

// overallRank double-weights quality.
func overallRank(cost, speed, quality int) int {
	return int(math.Round(float64(cost+speed+2*quality) / 4))
}

func recommendations(cfg catalog.ModelConfiguration) []string {
	tags := []string{}
	if cfg.Category == catalog.CategoryConversation {
		tags = append(tags, "conversation", "chat")
	}
	if cfg.CostPer1KTokens < 0.001 {
		tags = append(tags, "high_volume")
	}
	if cfg.QualityScore > 0.8 {
		tags = append(tags, "complex_tasks")
	}
	if cfg.IsPrimaryLanguage("zh") {
		tags = append(tags, "chinese_language")
	}
	if cfg.IsPrimaryLanguage("fr") {
		tags = append(tags, "french_language")
	}
	return tags
}

func suggestions(cfg catalog.ModelConfiguration, usage catalog.UsageStats) []string {
	out := []string{}
	if cfg.CostPer1KTokens > 0.01 {
		out = append(out, SuggestCost)
	}
	if cfg.AvgResponseTimeMs > 2000 {
		out = append(out, SuggestLatency)
	}
	if usage.TotalRequests > 100 && usage.SuccessRate() < 0.95 {
		out = append(out, SuggestReliability)
	}
	return out
}

// relativeChange returns (b-a)/a, or ok=false when a is zero.
func relativeChange(a, b float64) (float64, bool) {
	if a == 0 {
		return 0, false
	}
	return (b - a) / a, true
}

func usageTrend(first, second int64) string {
	if first == 0 && second > 0 {
		return TrendIncreasing
	}
	d, ok := relativeChange(float64(first), float64(second))
	switch {
	case !ok:
		return TrendStable
	case d > trendThreshold:
		return TrendIncreasing
	case d < -trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// performanceTrend compares mean quality across the two halves, or inverse
// mean latency when either half has no ratings.
func performanceTrend(first, second store.PerformanceAggregate) string {
	var a, b float64
	switch {
	case first.AvgQuality != nil && second.AvgQuality != nil:
		a, b = *first.AvgQuality, *second.AvgQuality
	case first.AvgResponseTime != nil && second.AvgResponseTime != nil &&
		*first.AvgResponseTime > 0 && *second.AvgResponseTime > 0:
		a, b = 1 / *first.AvgResponseTime, 1 / *second.AvgResponseTime
	default:
		return TrendStable
	}
	d, ok := relativeChange(a, b)
	switch {
	case !ok:
		return TrendStable
	case d > trendThreshold:
		return TrendImproving
	case d < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}
