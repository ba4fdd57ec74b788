package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lingotutor/modelhub/internal/logging"
)

var configEnvVars = []string{
	"MODELHUB_LISTEN_ADDR",
	"MODELHUB_LOG_LEVEL",
	"MODELHUB_LOG_FORMAT",
	"MODELHUB_DB_DSN",
	"MODELHUB_CATALOG_FILE",
	"MODELHUB_MONTHLY_BUDGET_USD",
	"MODELHUB_ADMIN_TOKEN",
	"MODELHUB_CORS_ORIGINS",
	"MODELHUB_PROVIDER_ENDPOINTS",
	"MODELHUB_PROBE_TIMEOUT",
	"MODELHUB_PROBE_INTERVAL",
	"MODELHUB_USAGE_RATE_LIMIT",
	"MODELHUB_IDEMPOTENCY_TTL",
	"MODELHUB_OTEL_ENABLED",
	"MODELHUB_OTEL_SAMPLE_RATIO",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8090")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
	if cfg.DBDSN != "file:/data/modelhub.sqlite" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "file:/data/modelhub.sqlite")
	}
	if cfg.MonthlyBudgetUSD != 30 {
		t.Errorf("MonthlyBudgetUSD = %f, want 30", cfg.MonthlyBudgetUSD)
	}
	if cfg.ReportCacheTTL != time.Minute {
		t.Errorf("ReportCacheTTL = %s, want 1m", cfg.ReportCacheTTL)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("ProbeTimeout = %s, want 5s", cfg.ProbeTimeout)
	}
	if cfg.ProbeInterval != 0 {
		t.Errorf("ProbeInterval = %s, want 0", cfg.ProbeInterval)
	}
	if cfg.RouterMode != "smart" || cfg.FallbackProvider != "ollama" {
		t.Errorf("router = %q/%q, want smart/ollama", cfg.RouterMode, cfg.FallbackProvider)
	}
	if len(cfg.ProviderEndpoints) != 0 {
		t.Errorf("ProviderEndpoints = %v, want empty", cfg.ProviderEndpoints)
	}
	if cfg.OTelEnabled {
		t.Error("OTelEnabled = true, want false")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODELHUB_LISTEN_ADDR", ":9090")
	t.Setenv("MODELHUB_LOG_LEVEL", "debug")
	t.Setenv("MODELHUB_LOG_FORMAT", "text")
	t.Setenv("MODELHUB_DB_DSN", "file::memory:")
	t.Setenv("MODELHUB_MONTHLY_BUDGET_USD", "125.5")
	t.Setenv("MODELHUB_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("MODELHUB_PROVIDER_ENDPOINTS", "claude=https://api.anthropic.com/v1/models, Ollama=http://localhost:11434/api/tags")
	t.Setenv("MODELHUB_PROBE_TIMEOUT", "2s")
	t.Setenv("MODELHUB_PROBE_INTERVAL", "1m")
	t.Setenv("MODELHUB_USAGE_RATE_LIMIT", "0")
	t.Setenv("MODELHUB_OTEL_ENABLED", "true")
	t.Setenv("MODELHUB_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Errorf("log = %q/%q, want debug/text", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MonthlyBudgetUSD != 125.5 {
		t.Errorf("MonthlyBudgetUSD = %f, want 125.5", cfg.MonthlyBudgetUSD)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if got := cfg.ProviderEndpoints["ollama"]; got != "http://localhost:11434/api/tags" {
		t.Errorf("ollama endpoint = %q", got)
	}
	if got := cfg.ProviderEndpoints["claude"]; got != "https://api.anthropic.com/v1/models" {
		t.Errorf("claude endpoint = %q", got)
	}
	if cfg.ProbeTimeout != 2*time.Second || cfg.ProbeInterval != time.Minute {
		t.Errorf("probe = %s/%s, want 2s/1m", cfg.ProbeTimeout, cfg.ProbeInterval)
	}
	if cfg.UsageRateLimit != 0 {
		t.Errorf("UsageRateLimit = %f, want 0", cfg.UsageRateLimit)
	}
	tc := cfg.TracingConfig("1.2.3")
	if !tc.Enabled || tc.SampleRatio != 0.25 || tc.ServiceVersion != "1.2.3" {
		t.Errorf("TracingConfig = %+v", tc)
	}
}

func TestLoadConfigRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"MODELHUB_MONTHLY_BUDGET_USD": "lots",
		"MODELHUB_PROBE_TIMEOUT":      "soon",
		"MODELHUB_PROVIDER_ENDPOINTS": "claude",
		"MODELHUB_OTEL_ENABLED":       "notabool",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%q succeeded, want error", key, value)
			}
		})
	}
}

func TestEndpointsDecode(t *testing.T) {
	var e Endpoints
	if err := e.Decode(" mistral = https://api.mistral.ai ,, deepseek=https://api.deepseek.com "); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := e.Names(); len(got) != 2 || got[0] != "deepseek" || got[1] != "mistral" {
		t.Errorf("Names() = %v, want [deepseek mistral]", got)
	}
	for _, bad := range []string{"=http://x", "claude=", "claude:http://x"} {
		if err := e.Decode(bad); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", bad)
		}
	}
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		ListenAddr:         ":0",
		LogLevel:           "error",
		LogFormat:          "json",
		DBDSN:              filepath.Join(t.TempDir(), "modelhub.db"),
		ReportCacheTTL:     time.Minute,
		MonthlyBudgetUSD:   30,
		UsageRateLimit:     50,
		UsageRateBurst:     100,
		IdempotencyTTL:     time.Minute,
		IdempotencyMaxKeys: 100,
		ProbeTimeout:       time.Second,
		RouterMode:         "smart",
		FallbackProvider:   "ollama",
		OTelSampleRatio:    1,
	}
}

func TestConfigValidate(t *testing.T) {
	base := newTestConfig(t)
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := map[string]func(c *Config){
		"format":        func(c *Config) { c.LogFormat = "xml" },
		"budget":        func(c *Config) { c.MonthlyBudgetUSD = -1 },
		"rate":          func(c *Config) { c.UsageRateLimit = -1 },
		"burst":         func(c *Config) { c.UsageRateBurst = 0 },
		"idem keys":     func(c *Config) { c.IdempotencyMaxKeys = 0 },
		"probe timeout": func(c *Config) { c.ProbeTimeout = 0 },
		"interval":      func(c *Config) { c.ProbeInterval = -time.Second },
		"sample":        func(c *Config) { c.OTelSampleRatio = 1.5 },
		"dsn":           func(c *Config) { c.DBDSN = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("Validate() succeeded, want error")
			}
		})
	}

	c := base
	c.UsageRateLimit, c.UsageRateBurst = 0, 0
	if err := c.Validate(); err != nil {
		t.Errorf("disabled limiter should not need a burst: %v", err)
	}
}

func get(t *testing.T, srv *Server, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(newTestConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Models int    `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Models != 5 {
		t.Errorf("models = %d, want 5 seeded", body.Models)
	}
	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
	if rec := get(t, srv, "/admin/ai-models/models"); rec.Code != http.StatusOK {
		t.Errorf("admin without token configured: status = %d, want 200", rec.Code)
	}
}

func TestNewServerCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `models:
  - provider: mistral
    model_name: mistral-large-latest
    category: analysis
    supported_languages: [en, fr]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := newTestConfig(t)
	cfg.CatalogFile = path

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if _, ok := srv.Registry().Get("mistral_mistral-large-latest"); !ok {
		t.Error("catalog file model not seeded")
	}
	if _, ok := srv.Registry().Get("claude_claude-3-haiku-20240307"); ok {
		t.Error("built-in catalog should be replaced by the file")
	}

	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewServer(cfg); err == nil {
		t.Error("NewServer() with missing catalog file succeeded, want error")
	}
}

func TestNewServerAdminToken(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AdminToken = "s3cret"
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if rec := get(t, srv, "/admin/ai-models/models"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := get(t, srv, "/admin/ai-models/models", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz should stay open, status = %d", rec.Code)
	}
}

func TestServerReload(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AdminToken = "old"
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	newCfg := cfg
	newCfg.LogLevel = "debug"
	newCfg.AdminToken = "new"
	srv.Reload(newCfg)

	if srv.cfg.LogLevel != "debug" {
		t.Errorf("after Reload LogLevel = %q, want debug", srv.cfg.LogLevel)
	}
	if logging.Level().String() != "DEBUG" {
		t.Errorf("logging level = %s, want DEBUG", logging.Level())
	}
	if rec := get(t, srv, "/admin/ai-models/models", "Authorization", "Bearer old"); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token after rotation: status = %d, want 401", rec.Code)
	}
	if rec := get(t, srv, "/admin/ai-models/models", "X-Admin-Token", "new"); rec.Code != http.StatusOK {
		t.Errorf("new token after rotation: status = %d, want 200", rec.Code)
	}

	// An empty token in the reloaded config keeps the current one.
	newCfg.AdminToken = ""
	srv.Reload(newCfg)
	if rec := get(t, srv, "/admin/ai-models/models", "X-Admin-Token", "new"); rec.Code != http.StatusOK {
		t.Errorf("token cleared by reload: status = %d", rec.Code)
	}
}

func TestServerCloseStopsProber(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := newTestConfig(t)
	cfg.ProviderEndpoints = Endpoints{"ollama": upstream.URL}
	cfg.ProbeInterval = 10 * time.Millisecond

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if srv.prober == nil {
		t.Fatal("prober not started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := get(t, srv, "/metrics")
		if strings.Contains(rec.Body.String(), `modelhub_provider_available{provider="ollama"} 1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("prober never reported ollama available")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	http.DefaultTransport.(*http.Transport).CloseIdleConnections()
}
