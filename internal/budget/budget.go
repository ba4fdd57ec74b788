// Package budget reports month-to-date spend against a monthly budget.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lingotutor/modelhub/internal/events"
)

const (
	// DefaultMonthlyUSD is used when no budget is configured.
	DefaultMonthlyUSD = 30.0

	spendCacheTTL = 30 * time.Second

	// projectionDays approximates a month for the spend projection.
	projectionDays = 30
)

// AlertLevel grades how much of the budget is used.
type AlertLevel string

const (
	AlertGreen    AlertLevel = "green"
	AlertYellow   AlertLevel = "yellow"
	AlertOrange   AlertLevel = "orange"
	AlertRed      AlertLevel = "red"
	AlertCritical AlertLevel = "critical"
)

// LevelFor maps a used fraction (0.5 = 50%) to an alert level.
func LevelFor(fraction float64) AlertLevel {
	switch {
	case fraction >= 1.0:
		return AlertCritical
	case fraction >= 0.90:
		return AlertRed
	case fraction >= 0.75:
		return AlertOrange
	case fraction >= 0.50:
		return AlertYellow
	default:
		return AlertGreen
	}
}

// Status is the month-to-date budget position.
type Status struct {
	TotalBudget          float64    `json:"total_budget"`
	UsedBudget           float64    `json:"used_budget"`
	RemainingBudget      float64    `json:"remaining_budget"`
	PercentageUsed       float64    `json:"percentage_used"`
	AlertLevel           AlertLevel `json:"alert_level"`
	DaysRemaining        int        `json:"days_remaining"`
	ProjectedMonthlyCost float64    `json:"projected_monthly_cost"`
	IsOverBudget         bool       `json:"is_over_budget"`
}

// SpendSource sums recorded cost since a point in time.
type SpendSource interface {
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}

// Gauge receives the used fraction after every fresh computation.
type Gauge interface {
	Set(float64)
}

type cachedSpend struct {
	monthStart time.Time
	amount     float64
	expiresAt  time.Time
}

// Manager computes budget status from recorded spend. The month-to-date
// sum is cached for 30s to keep dashboards off the database.
type Manager struct {
	source  SpendSource
	monthly float64
	bus     *events.Bus
	gauge   Gauge
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	cache     *cachedSpend
	lastLevel AlertLevel
}

// Option configures a Manager.
type Option func(*Manager)

func WithEventBus(bus *events.Bus) Option { return func(m *Manager) { m.bus = bus } }

func WithGauge(g Gauge) Option { return func(m *Manager) { m.gauge = g } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager returns a Manager for monthlyUSD. Non-positive budgets fall
// back to DefaultMonthlyUSD.
func NewManager(source SpendSource, monthlyUSD float64, opts ...Option) *Manager {
	if monthlyUSD <= 0 {
		monthlyUSD = DefaultMonthlyUSD
	}
	m := &Manager{
		source:    source,
		monthly:   monthlyUSD,
		logger:    slog.Default(),
		now:       time.Now,
		lastLevel: AlertGreen,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MonthlyBudget returns the configured budget in USD.
func (m *Manager) MonthlyBudget() float64 { return m.monthly }

// CurrentStatus returns the budget position for the current UTC month.
func (m *Manager) CurrentStatus(ctx context.Context) (Status, error) {
	now := m.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	used, err := m.spend(ctx, monthStart, now)
	if err != nil {
		return Status{}, fmt.Errorf("budget status: %w", err)
	}

	fraction := used / m.monthly
	nextMonth := monthStart.AddDate(0, 1, 0)
	elapsedDays := int(now.Sub(monthStart).Hours()/24) + 1

	st := Status{
		TotalBudget:          m.monthly,
		UsedBudget:           used,
		RemainingBudget:      max(0, m.monthly-used),
		PercentageUsed:       fraction * 100,
		AlertLevel:           LevelFor(fraction),
		DaysRemaining:        int(nextMonth.Sub(now).Hours() / 24),
		ProjectedMonthlyCost: used / float64(elapsedDays) * projectionDays,
		IsOverBudget:         used > m.monthly,
	}
	m.observe(st)
	return st, nil
}

func (m *Manager) spend(ctx context.Context, monthStart, now time.Time) (float64, error) {
	m.mu.Lock()
	if c := m.cache; c != nil && c.monthStart.Equal(monthStart) && now.Before(c.expiresAt) {
		m.mu.Unlock()
		return c.amount, nil
	}
	m.mu.Unlock()

	amount, err := m.source.SpendSince(ctx, monthStart)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.cache = &cachedSpend{monthStart: monthStart, amount: amount, expiresAt: now.Add(spendCacheTTL)}
	m.mu.Unlock()
	return amount, nil
}

// observe updates the gauge and publishes a budget_alert when the level changes.
func (m *Manager) observe(st Status) {
	if m.gauge != nil {
		m.gauge.Set(st.PercentageUsed / 100)
	}

	m.mu.Lock()
	prev := m.lastLevel
	m.lastLevel = st.AlertLevel
	m.mu.Unlock()
	if prev == st.AlertLevel {
		return
	}

	m.logger.Warn("budget alert level changed",
		slog.String("from", string(prev)),
		slog.String("to", string(st.AlertLevel)),
		slog.Float64("used_usd", st.UsedBudget),
		slog.Float64("budget_usd", st.TotalBudget),
	)
	m.bus.Publish(events.Event{
		Type:     events.EventBudgetAlert,
		OldState: string(prev),
		NewState: string(st.AlertLevel),
		CostUSD:  st.UsedBudget,
		Reason:   fmt.Sprintf("%.1f%% of $%.2f used", st.PercentageUsed, st.TotalBudget),
	})
}

// Invalidate drops the cached spend. Call it after recording usage.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cache = nil
	m.mu.Unlock()
}
