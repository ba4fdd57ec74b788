package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name, e.g. MODELHUB_LISTEN_ADDR.
const EnvPrefix = "MODELHUB"

// Endpoints maps provider name to the URL probed for health. It decodes
// from "claude=https://api.anthropic.com,ollama=http://localhost:11434".
type Endpoints map[string]string

// Decode implements envconfig.Decoder.
func (e *Endpoints) Decode(value string) error {
	out := Endpoints{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		name, url = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return fmt.Errorf("provider endpoint %q: want name=url", pair)
		}
		out[name] = url
	}
	*e = out
	return nil
}

// Names returns the configured provider names, sorted.
func (e Endpoints) Names() []string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8090"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"json"`

	DBDSN string `envconfig:"DB_DSN" default:"file:/data/modelhub.sqlite"`

	// CatalogFile seeds an empty database instead of the built-in catalog.
	CatalogFile    string        `envconfig:"CATALOG_FILE"`
	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"60s"`

	MonthlyBudgetUSD float64 `envconfig:"MONTHLY_BUDGET_USD" default:"30"`

	// Security & hardening.
	AdminToken  string   `envconfig:"ADMIN_TOKEN"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"` // empty = ["*"]

	// Usage ingestion guard. A zero rate disables limiting and a zero TTL
	// disables Idempotency-Key replay.
	UsageRateLimit     float64       `envconfig:"USAGE_RATE_LIMIT" default:"50"`
	UsageRateBurst     int           `envconfig:"USAGE_RATE_BURST" default:"100"`
	IdempotencyTTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"10m"`
	IdempotencyMaxKeys int           `envconfig:"IDEMPOTENCY_MAX_KEYS" default:"10000"`

	// Provider health.
	ProviderEndpoints Endpoints     `envconfig:"PROVIDER_ENDPOINTS"`
	ProbeTimeout      time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	ProbeInterval     time.Duration `envconfig:"PROBE_INTERVAL" default:"0s"`
	RouterMode        string        `envconfig:"ROUTER_MODE" default:"smart"`
	FallbackProvider  string        `envconfig:"FALLBACK_PROVIDER" default:"ollama"`

	// OpenTelemetry.
	OTelEnabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint    string  `envconfig:"OTEL_ENDPOINT" default:"localhost:4318"`
	OTelSampleRatio float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`
}

// LoadConfig reads MODELHUB_* variables and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("MODELHUB_LISTEN_ADDR must not be empty")
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("MODELHUB_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("MODELHUB_DB_DSN must not be empty")
	}
	if c.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("MODELHUB_MONTHLY_BUDGET_USD must be >= 0, got %f", c.MonthlyBudgetUSD)
	}
	if c.ReportCacheTTL < 0 {
		return fmt.Errorf("MODELHUB_REPORT_CACHE_TTL must be >= 0, got %s", c.ReportCacheTTL)
	}
	if c.UsageRateLimit < 0 {
		return fmt.Errorf("MODELHUB_USAGE_RATE_LIMIT must be >= 0, got %f", c.UsageRateLimit)
	}
	if c.UsageRateLimit > 0 && c.UsageRateBurst <= 0 {
		return fmt.Errorf("MODELHUB_USAGE_RATE_BURST must be > 0, got %d", c.UsageRateBurst)
	}
	if c.IdempotencyTTL < 0 {
		return fmt.Errorf("MODELHUB_IDEMPOTENCY_TTL must be >= 0, got %s", c.IdempotencyTTL)
	}
	if c.IdempotencyTTL > 0 && c.IdempotencyMaxKeys <= 0 {
		return fmt.Errorf("MODELHUB_IDEMPOTENCY_MAX_KEYS must be > 0, got %d", c.IdempotencyMaxKeys)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("MODELHUB_PROBE_TIMEOUT must be > 0, got %s", c.ProbeTimeout)
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("MODELHUB_PROBE_INTERVAL must be >= 0, got %s", c.ProbeInterval)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("MODELHUB_OTEL_SAMPLE_RATIO must be in [0, 1], got %f", c.OTelSampleRatio)
	}
	return nil
}
