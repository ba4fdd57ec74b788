// Package health tracks reachability of the upstream model providers.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/lingotutor/modelhub/internal/events"
)

// State represents the health state of a provider.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Stats captures probe history for a single provider.
type Stats struct {
	Provider      string    `json:"provider"`
	State         State     `json:"state"`
	TotalChecks   int64     `json:"total_checks"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Reachable reports whether the most recent check succeeded.
func (s Stats) Reachable() bool {
	return s.TotalChecks > 0 && s.ConsecErrors == 0
}

// TrackerConfig configures the health tracker thresholds.
type TrackerConfig struct {
	// ConsecErrorsForDegraded: how many consecutive errors before degraded state.
	ConsecErrorsForDegraded int
	// ConsecErrorsForDown: how many consecutive errors before down state.
	ConsecErrorsForDown int
	// CooldownDuration: how long to keep a provider in down state.
	CooldownDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		CooldownDuration:        30 * time.Second,
	}
}

// Tracker tracks probe results for all providers.
type Tracker struct {
	cfg      TrackerConfig
	bus      *events.Bus
	onUpdate func(provider string, state State, reachable bool)

	mu    sync.RWMutex
	stats map[string]*Stats
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithEventBus publishes state transitions as EventHealthChange events.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) {
		t.bus = bus
	}
}

// WithOnUpdate registers a callback invoked on every recorded result.
// Use this to keep external gauges current.
func WithOnUpdate(fn func(provider string, state State, reachable bool)) TrackerOption {
	return func(t *Tracker) {
		t.onUpdate = fn
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		stats: make(map[string]*Stats),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordSuccess records a successful probe.
func (t *Tracker) RecordSuccess(provider string, latencyMs float64) {
	t.mu.Lock()

	s := t.getOrCreate(provider)
	oldState := s.State

	s.TotalChecks++
	s.ConsecErrors = 0
	s.LastSuccessAt = time.Now()
	s.State = StateHealthy
	s.CooldownUntil = time.Time{}

	if s.TotalChecks == 1 || s.AvgLatencyMs == 0 {
		s.AvgLatencyMs = latencyMs
	} else {
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}

	newState := s.State
	t.mu.Unlock()

	t.notify(provider, oldState, newState, true, "check succeeded")
}

// RecordError records a failed probe.
func (t *Tracker) RecordError(provider string, errMsg string) {
	t.mu.Lock()

	s := t.getOrCreate(provider)
	oldState := s.State

	s.TotalChecks++
	s.TotalErrors++
	s.ConsecErrors++
	s.LastError = errMsg
	s.LastErrorTime = time.Now()

	if s.ConsecErrors >= t.cfg.ConsecErrorsForDown {
		s.State = StateDown
		s.CooldownUntil = time.Now().Add(t.cfg.CooldownDuration)
	} else if s.ConsecErrors >= t.cfg.ConsecErrorsForDegraded {
		s.State = StateDegraded
	}

	newState := s.State
	t.mu.Unlock()

	t.notify(provider, oldState, newState, false, errMsg)
}

func (t *Tracker) notify(provider string, oldState, newState State, reachable bool, reason string) {
	if t.onUpdate != nil {
		t.onUpdate(provider, newState, reachable)
	}
	if oldState != newState {
		t.bus.Publish(events.Event{
			Type:     events.EventHealthChange,
			Provider: provider,
			OldState: string(oldState),
			NewState: string(newState),
			Reason:   reason,
		})
	}
}

// InCooldown reports whether the provider is down and still cooling off.
func (t *Tracker) InCooldown(provider string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[provider]
	return ok && s.State == StateDown && time.Now().Before(s.CooldownUntil)
}

// GetStats returns a copy of the stats for a provider. The second result
// is false when the provider has never been checked.
func (t *Tracker) GetStats(provider string) (Stats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[provider]
	if !ok {
		return Stats{Provider: provider, State: StateHealthy}, false
	}
	return *s, true
}

// AllStats returns a copy of stats for all checked providers, sorted by name.
func (t *Tracker) AllStats() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Stats, 0, len(t.stats))
	for _, s := range t.stats {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result
}

func (t *Tracker) getOrCreate(provider string) *Stats {
	s, ok := t.stats[provider]
	if !ok {
		s = &Stats{Provider: provider, State: StateHealthy}
		t.stats[provider] = s
	}
	return s
}
