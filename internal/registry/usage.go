package registry

import (
	"context"
	"fmt"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/events"
)

// UsageEvent is one request's telemetry. Values are recorded as given.
type UsageEvent struct {
	ModelID        string   `json:"model_id"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	TokensUsed     int64    `json:"tokens_used"`
	Cost           float64  `json:"cost"`
	Success        bool     `json:"success"`
	QualityRating  *float64 `json:"quality_rating,omitempty"`
	RequestType    string   `json:"request_type,omitempty"`
	Language       string   `json:"language,omitempty"`
}

// qualityBlend is the weight kept by the previous quality average.
const qualityBlend = 0.8

// nextUsage folds ev into u. total_requests is incremented first and the
// latency mean is rebased on the post-increment count.
func nextUsage(u catalog.UsageStats, ev UsageEvent, now catalog.UsageStats) catalog.UsageStats {
	next := u.Clone()
	next.TotalRequests++
	if ev.Success {
		next.SuccessfulRequests++
	} else {
		next.FailedRequests++
	}
	next.TotalTokens += ev.TokensUsed
	next.TotalCost += ev.Cost

	if next.TotalRequests == 1 {
		next.AvgResponseTime = ev.ResponseTimeMs
		next.MinResponseTime = ev.ResponseTimeMs
		next.MaxResponseTime = ev.ResponseTimeMs
	} else {
		n := float64(next.TotalRequests)
		next.MinResponseTime = min(u.MinResponseTime, ev.ResponseTimeMs)
		next.MaxResponseTime = max(u.MaxResponseTime, ev.ResponseTimeMs)
		// Rounding in the rebased mean can step just outside [min,max].
		mean := (u.AvgResponseTime*(n-1) + ev.ResponseTimeMs) / n
		next.AvgResponseTime = min(max(mean, next.MinResponseTime), next.MaxResponseTime)
	}

	if ev.QualityRating != nil {
		q := *ev.QualityRating
		if next.AvgQualityRating != nil {
			q = *next.AvgQualityRating*qualityBlend + q*(1-qualityBlend)
		}
		next.AvgQualityRating = &q
	}

	next.LastUsed = now.LastUsed
	if next.FirstUsed == nil {
		next.FirstUsed = now.LastUsed
	}
	return next
}

// TrackUsage records one usage event. Events for unknown models are
// dropped and reported as not tracked. The aggregate update and the log
// append are persisted together while the model's lock is held.
func (r *Registry) TrackUsage(ctx context.Context, ev UsageEvent) (bool, error) {
	e := r.lookup(ev.ModelID)
	if e == nil {
		return false, nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	now := r.clock()
	next := nextUsage(e.usage, ev, catalog.UsageStats{LastUsed: &now})

	entry := catalog.PerformanceLog{
		ModelID:        ev.ModelID,
		Timestamp:      now,
		RequestType:    ev.RequestType,
		Language:       ev.Language,
		ResponseTimeMs: ev.ResponseTimeMs,
		TokensUsed:     ev.TokensUsed,
		Cost:           ev.Cost,
		QualityRating:  ev.QualityRating,
	}
	if !ev.Success {
		entry.ErrorCount = 1
	}
	if err := r.store.RecordUsage(ctx, next, entry); err != nil {
		return false, fmt.Errorf("record usage %s: %w", ev.ModelID, err)
	}

	r.mu.Lock()
	e.usage = next
	e.cfg.LastUsed = &now
	provider := e.cfg.Provider
	r.mu.Unlock()

	r.reports.invalidate(ev.ModelID)
	success := ev.Success
	r.bus.Publish(events.Event{
		Type:       events.EventUsageTracked,
		ModelID:    ev.ModelID,
		Provider:   provider,
		LatencyMs:  ev.ResponseTimeMs,
		CostUSD:    ev.Cost,
		TokensUsed: ev.TokensUsed,
		Success:    &success,
		Quality:    ev.QualityRating,
	})
	return true, nil
}

// ResetUsage zeroes the usage aggregate for id. Performance log rows are
// append-only and are kept.
func (r *Registry) ResetUsage(ctx context.Context, id string) error {
	e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	fresh := catalog.NewUsageStats(e.cfg)
	if err := r.store.SaveUsageStats(ctx, fresh); err != nil {
		return fmt.Errorf("reset usage %s: %w", id, err)
	}

	r.mu.Lock()
	e.usage = fresh
	r.mu.Unlock()

	r.reports.invalidate(id)
	r.bus.Publish(events.Event{Type: events.EventUsageReset, ModelID: id, Provider: fresh.Provider})
	return nil
}

// ResetAllUsage resets every model and returns how many were reset.
func (r *Registry) ResetAllUsage(ctx context.Context) (int, error) {
	views := r.GetAll(Filter{})
	for i, v := range views {
		if err := r.ResetUsage(ctx, v.ID); err != nil {
			return i, err
		}
	}
	return len(views), nil
}
