// Package registry owns the model registry: configuration store, usage
// tracker, performance reports and the optimization selector.
//
// All state lives in a constructed Registry backed by a store.Store. Writes
// for a single model are serialized by a per-model lock and persisted before
// the in-memory snapshot is swapped, so memory never runs ahead of storage.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/events"
	"github.com/lingotutor/modelhub/internal/store"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelExists   = errors.New("model already exists")
	// ErrInvalidUpdate matches every validation failure.
	ErrInvalidUpdate = catalog.ErrInvalid
)

// ModelView is a configuration merged with its usage summary.
type ModelView struct {
	ID string `json:"id"`
	catalog.ModelConfiguration
	UsageStats UsageSummary `json:"usage_stats"`
}

// UsageSummary is the slice of usage data shown alongside a configuration.
type UsageSummary struct {
	TotalRequests    int64      `json:"total_requests"`
	SuccessRate      float64    `json:"success_rate"`
	TotalCost        float64    `json:"total_cost"`
	AvgResponseTime  float64    `json:"avg_response_time"`
	AvgQualityRating *float64   `json:"avg_quality_rating"`
	LastUsed         *time.Time `json:"last_used,omitempty"`
}

// Filter narrows GetAll. Zero values match everything.
type Filter struct {
	Category    catalog.Category
	Provider    string
	Status      catalog.Status
	EnabledOnly bool
	// Search matches display name, model name or provider, case-insensitively.
	Search string
}

func (f Filter) match(m catalog.ModelConfiguration) bool {
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.EnabledOnly && !m.Enabled {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(m.DisplayName), q) &&
			!strings.Contains(strings.ToLower(m.ModelName), q) &&
			!strings.Contains(strings.ToLower(m.Provider), q) {
			return false
		}
	}
	return true
}

type entry struct {
	// writeMu serializes read-modify-persist cycles for one model.
	writeMu sync.Mutex

	// cfg and usage are replaced under Registry.mu.
	cfg   catalog.ModelConfiguration
	usage catalog.UsageStats
}

// Registry is the model registry.
type Registry struct {
	store   store.Store
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time
	seed    []catalog.ModelConfiguration
	reports *reportCache

	createMu sync.Mutex

	mu     sync.RWMutex
	models map[string]*entry
}

// Option configures optional Registry behaviour.
type Option func(*Registry)

// WithEventBus publishes registry mutations on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSeed replaces the bootstrap catalog. Pass an empty slice to start
// with whatever the store already holds.
func WithSeed(models []catalog.ModelConfiguration) Option {
	return func(r *Registry) { r.seed = models }
}

// WithReportTTL sets how long generated reports are cached. Zero disables caching.
func WithReportTTL(d time.Duration) Option {
	return func(r *Registry) { r.reports.ttl = d }
}

// New loads persisted state and inserts any seed model the store does not
// yet hold. Persisted models are never overwritten by the seed set.
func New(ctx context.Context, st store.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:   st,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		seed:    catalog.DefaultModels(),
		reports: newReportCache(time.Minute),
		models:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.bootstrap(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func (r *Registry) bootstrap(ctx context.Context) error {
	cfgs, err := r.store.ListModelConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("load model configurations: %w", err)
	}
	usage, err := r.store.ListUsageStats(ctx)
	if err != nil {
		return fmt.Errorf("load usage stats: %w", err)
	}
	byID := make(map[string]catalog.UsageStats, len(usage))
	for _, u := range usage {
		byID[u.ModelID] = u
	}

	for _, cfg := range cfgs {
		u, ok := byID[cfg.ID()]
		if !ok {
			u = catalog.NewUsageStats(cfg)
			if err := r.store.SaveUsageStats(ctx, u); err != nil {
				return fmt.Errorf("create usage row %s: %w", cfg.ID(), err)
			}
		}
		r.models[cfg.ID()] = &entry{cfg: cfg, usage: u}
	}

	seeded := 0
	for _, m := range r.seed {
		if _, ok := r.models[m.ID()]; ok {
			continue
		}
		now := r.clock()
		m = m.Clone()
		m.CreatedAt, m.UpdatedAt = now, now
		u := catalog.NewUsageStats(m)
		if err := r.store.CreateModel(ctx, m, u); err != nil {
			return fmt.Errorf("seed model %s: %w", m.ID(), err)
		}
		r.models[m.ID()] = &entry{cfg: m, usage: u}
		seeded++
	}
	r.logger.Info("model registry loaded",
		slog.Int("models", len(r.models)),
		slog.Int("seeded", seeded),
	)
	return nil
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[id]
}

func view(e *entry) ModelView {
	u := e.usage
	return ModelView{
		ID:                 e.cfg.ID(),
		ModelConfiguration: e.cfg.Clone(),
		UsageStats: UsageSummary{
			TotalRequests:    u.TotalRequests,
			SuccessRate:      u.SuccessRate(),
			TotalCost:        u.TotalCost,
			AvgResponseTime:  u.AvgResponseTime,
			AvgQualityRating: u.Clone().AvgQualityRating,
			LastUsed:         u.Clone().LastUsed,
		},
	}
}

// GetAll returns configurations merged with usage, sorted by priority
// ascending then quality descending. Ties fall back to model id.
func (r *Registry) GetAll(f Filter) []ModelView {
	r.mu.RLock()
	out := make([]ModelView, 0, len(r.models))
	for _, e := range r.models {
		if f.match(e.cfg) {
			out = append(out, view(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.ID < b.ID
	})
	return out
}

// Get returns a single model. The second result is false when id is unknown.
func (r *Registry) Get(id string) (ModelView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[id]
	if !ok {
		return ModelView{}, false
	}
	return view(e), true
}

// Usage returns the full usage aggregate for id.
func (r *Registry) Usage(id string) (catalog.UsageStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[id]
	if !ok {
		return catalog.UsageStats{}, false
	}
	return e.usage.Clone(), true
}

// Create registers a new model with an empty usage aggregate.
func (r *Registry) Create(ctx context.Context, cfg catalog.ModelConfiguration) (ModelView, error) {
	if err := cfg.Validate(); err != nil {
		return ModelView{}, err
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ModelName
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if r.lookup(cfg.ID()) != nil {
		return ModelView{}, fmt.Errorf("%w: %s", ErrModelExists, cfg.ID())
	}

	now := r.clock()
	cfg = cfg.Clone()
	cfg.CreatedAt, cfg.UpdatedAt, cfg.LastUsed = now, now, nil
	u := catalog.NewUsageStats(cfg)
	if err := r.store.CreateModel(ctx, cfg, u); err != nil {
		return ModelView{}, fmt.Errorf("persist model %s: %w", cfg.ID(), err)
	}

	e := &entry{cfg: cfg, usage: u}
	r.mu.Lock()
	r.models[cfg.ID()] = e
	r.mu.Unlock()
	r.reports.clear()

	r.bus.Publish(events.Event{Type: events.EventModelCreated, ModelID: cfg.ID(), Provider: cfg.Provider})
	return r.mustGet(cfg.ID()), nil
}

func (r *Registry) mustGet(id string) ModelView {
	v, _ := r.Get(id)
	return v
}

// Configurations returns a copy of every configuration in GetAll order.
func (r *Registry) Configurations(f Filter) []catalog.ModelConfiguration {
	views := r.GetAll(f)
	out := make([]catalog.ModelConfiguration, len(views))
	for i, v := range views {
		out[i] = v.ModelConfiguration
	}
	return out
}

// WindowedUsage aggregates performance logs per model over [from, to).
// A zero to leaves the window open-ended.
func (r *Registry) WindowedUsage(ctx context.Context, from, to time.Time) ([]store.ModelAggregate, error) {
	return r.store.AggregateByModel(ctx, from, to)
}

// PerformanceLogs lists the most recent log rows for id.
func (r *Registry) PerformanceLogs(ctx context.Context, id string, limit, offset int) ([]catalog.PerformanceLog, error) {
	if r.lookup(id) == nil {
		return nil, ErrModelNotFound
	}
	return r.store.ListPerformanceLogs(ctx, id, limit, offset)
}
