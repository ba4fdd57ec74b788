package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusUnconfigured is reported for providers without a probe endpoint.
const StatusUnconfigured = "unconfigured"

// ProviderHealth is the result of one provider check.
type ProviderHealth struct {
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Available bool      `json:"available"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// RouterStatus describes routing mode and fallback readiness, derived from
// the most recent checks without probing again.
type RouterStatus struct {
	Mode              string           `json:"mode"`
	Providers         map[string]Stats `json:"providers"`
	FallbackProvider  string           `json:"fallback_provider,omitempty"`
	FallbackAvailable bool             `json:"fallback_available"`
}

// CheckerConfig configures provider probing.
type CheckerConfig struct {
	// Endpoints maps provider name to the URL probed with GET.
	Endpoints map[string]string
	Timeout   time.Duration
	// RouterMode is reported verbatim in RouterStatus.
	RouterMode string
	// FallbackProvider is the provider routed to when the others fail.
	FallbackProvider string
}

// Checker probes provider endpoints on demand and feeds results into a Tracker.
type Checker struct {
	cfg     CheckerConfig
	tracker *Tracker
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

// CheckerOption configures optional Checker behaviour.
type CheckerOption func(*Checker)

// WithHTTPClient replaces the probe client.
func WithHTTPClient(c *http.Client) CheckerOption {
	return func(ch *Checker) { ch.client = c }
}

// WithLogger sets the checker's logger.
func WithLogger(l *slog.Logger) CheckerOption {
	return func(ch *Checker) { ch.logger = l }
}

// NewChecker creates a provider checker.
func NewChecker(cfg CheckerConfig, tracker *Tracker, opts ...CheckerOption) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Checker{
		cfg:     cfg,
		tracker: tracker,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/lingotutor/modelhub/internal/health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the configured provider names, sorted.
func (c *Checker) Providers() []string {
	out := make([]string, 0, len(c.cfg.Endpoints))
	for p := range c.cfg.Endpoints {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Tracker returns the underlying tracker.
func (c *Checker) Tracker() *Tracker { return c.tracker }

// CheckProviderHealth probes provider once and records the outcome.
// Any 2xx, 401 or 405 response counts as reachable: the endpoint exists.
func (c *Checker) CheckProviderHealth(ctx context.Context, provider string) (ProviderHealth, error) {
	endpoint, ok := c.cfg.Endpoints[provider]
	if !ok || endpoint == "" {
		return ProviderHealth{Provider: provider, Status: StatusUnconfigured, CheckedAt: time.Now().UTC()}, nil
	}

	ctx, span := c.tracer.Start(ctx, "health.check_provider",
		trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return ProviderHealth{}, fmt.Errorf("build probe for %s: %w", provider, err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latencyMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		return c.failed(span, provider, "probe: "+err.Error()), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusMethodNotAllowed {
		c.tracker.RecordSuccess(provider, latencyMs)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		c.logger.Debug("health probe ok",
			slog.String("provider", provider),
			slog.Int("status", resp.StatusCode),
			slog.Float64("latency_ms", latencyMs),
		)
		return ProviderHealth{
			Provider:  provider,
			Status:    string(StateHealthy),
			Available: true,
			LatencyMs: latencyMs,
			CheckedAt: time.Now().UTC(),
		}, nil
	}
	return c.failed(span, provider, "probe: HTTP "+resp.Status), nil
}

func (c *Checker) failed(span trace.Span, provider, msg string) ProviderHealth {
	c.tracker.RecordError(provider, msg)
	span.SetStatus(codes.Error, msg)
	c.logger.Warn("health probe failed",
		slog.String("provider", provider),
		slog.String("error", msg),
	)
	st, _ := c.tracker.GetStats(provider)
	status := StateDegraded
	if st.State == StateDown {
		status = StateDown
	}
	return ProviderHealth{
		Provider:  provider,
		Status:    string(status),
		LastError: msg,
		CheckedAt: time.Now().UTC(),
	}
}

// RouterStatus reports the routing mode and whether the fallback provider
// answered its most recent check.
func (c *Checker) RouterStatus(_ context.Context) (RouterStatus, error) {
	rs := RouterStatus{
		Mode:             c.cfg.RouterMode,
		Providers:        make(map[string]Stats),
		FallbackProvider: c.cfg.FallbackProvider,
	}
	for _, s := range c.tracker.AllStats() {
		rs.Providers[s.Provider] = s
	}
	if c.cfg.FallbackProvider != "" {
		if s, ok := c.tracker.GetStats(c.cfg.FallbackProvider); ok {
			rs.FallbackAvailable = s.Reachable()
		}
	}
	return rs, nil
}
