package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lingotutor/modelhub/internal/budget"
	"github.com/lingotutor/modelhub/internal/catalog"
	"github.com/lingotutor/modelhub/internal/events"
	"github.com/lingotutor/modelhub/internal/health"
	"github.com/lingotutor/modelhub/internal/httpapi"
	"github.com/lingotutor/modelhub/internal/idempotency"
	"github.com/lingotutor/modelhub/internal/logging"
	"github.com/lingotutor/modelhub/internal/metrics"
	"github.com/lingotutor/modelhub/internal/overview"
	"github.com/lingotutor/modelhub/internal/ratelimit"
	"github.com/lingotutor/modelhub/internal/registry"
	"github.com/lingotutor/modelhub/internal/store"
	"github.com/lingotutor/modelhub/internal/tracing"
)

type Server struct {
	mu  sync.Mutex
	cfg Config

	r *chi.Mux

	registry *registry.Registry
	store    store.Store
	prober   *health.Prober
	token    *httpapi.AdminToken
	logger   *slog.Logger
}

// TracingConfig maps the OTel settings onto tracing.Config.
func (c Config) TracingConfig(version string) tracing.Config {
	return tracing.Config{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    "modelhub",
		ServiceVersion: version,
		SampleRatio:    c.OTelSampleRatio,
	}
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Admin-Token", idempotency.HeaderKey},
		ExposedHeaders:   []string{"Retry-After", idempotency.HeaderReplay},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware())

	ctx := context.Background()

	// Open store.
	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	m := metrics.New()
	bus := events.NewBus()

	regOpts := []registry.Option{
		registry.WithEventBus(bus),
		registry.WithLogger(logger),
		registry.WithReportTTL(cfg.ReportCacheTTL),
	}
	if cfg.CatalogFile != "" {
		seed, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("catalog file loaded", slog.String("path", cfg.CatalogFile), slog.Int("models", len(seed)))
		regOpts = append(regOpts, registry.WithSeed(seed))
	}
	reg, err := registry.New(ctx, db, regOpts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bm := budget.NewManager(db, cfg.MonthlyBudgetUSD,
		budget.WithEventBus(bus),
		budget.WithGauge(m.BudgetUsedRatio),
		budget.WithLogger(logger),
	)

	// Set up health tracking.
	ht := health.NewTracker(health.DefaultConfig(),
		health.WithEventBus(bus),
		health.WithOnUpdate(func(provider string, _ health.State, reachable bool) {
			m.SetProviderAvailable(provider, reachable)
		}),
	)
	checker := health.NewChecker(health.CheckerConfig{
		Endpoints:        cfg.ProviderEndpoints,
		Timeout:          cfg.ProbeTimeout,
		RouterMode:       cfg.RouterMode,
		FallbackProvider: cfg.FallbackProvider,
	}, ht,
		health.WithHTTPClient(&http.Client{Transport: tracing.HTTPTransport(nil)}),
		health.WithLogger(logger),
	)
	logger.Info("provider endpoints configured", slog.Any("providers", cfg.ProviderEndpoints.Names()))

	agg := overview.New(reg,
		overview.WithBudget(bm),
		overview.WithHealthChecker(checker),
		overview.WithRouterStatus(checker),
		overview.WithProviders(catalog.Providers),
		overview.WithLogger(logger),
	)

	s := &Server{
		cfg:      cfg,
		r:        r,
		registry: reg,
		store:    db,
		token:    httpapi.NewAdminToken(cfg.AdminToken),
		logger:   logger,
	}
	if s.token == nil {
		logger.Warn("MODELHUB_ADMIN_TOKEN is not set; admin API is unauthenticated")
	}

	deps := httpapi.Dependencies{
		Registry:   reg,
		Overview:   agg,
		Store:      db,
		Metrics:    m,
		EventBus:   bus,
		Logger:     logger,
		Budget:     bm,
		AdminToken: s.token,
	}
	if cfg.UsageRateLimit > 0 {
		deps.UsageLimiter = ratelimit.New(cfg.UsageRateLimit, cfg.UsageRateBurst,
			ratelimit.WithRejectCounter(m.IngestRateLimited))
	}
	if cfg.IdempotencyTTL > 0 {
		deps.UsageReplay = idempotency.New(cfg.IdempotencyTTL, cfg.IdempotencyMaxKeys)
	}
	httpapi.MountRoutes(r, deps)

	if cfg.ProbeInterval > 0 && len(cfg.ProviderEndpoints) > 0 {
		s.prober = health.NewProber(checker, cfg.ProbeInterval, logger)
		s.prober.Start(ctx)
		logger.Info("provider prober started", slog.Duration("interval", cfg.ProbeInterval))
	}

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Registry exposes the model registry for embedding callers.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Reload applies the settings that can change without a restart: log
// level and the admin token. A token can be rotated but not introduced on
// a server started without one.
func (s *Server) Reload(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.SetLevel(cfg.LogLevel)
	s.cfg.LogLevel = cfg.LogLevel
	switch {
	case cfg.AdminToken == "":
	case s.token != nil:
		s.token.Replace(cfg.AdminToken)
		s.cfg.AdminToken = cfg.AdminToken
	default:
		s.logger.Warn("admin token cannot be enabled by reload; restart to require it")
	}
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) Close() error {
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
