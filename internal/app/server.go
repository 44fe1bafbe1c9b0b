package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/routehub/internal/audit"
	"github.com/jordanhubbard/routehub/internal/config"
	"github.com/jordanhubbard/routehub/internal/credentials"
	"github.com/jordanhubbard/routehub/internal/httpapi"
	"github.com/jordanhubbard/routehub/internal/idempotency"
	"github.com/jordanhubbard/routehub/internal/logging"
	"github.com/jordanhubbard/routehub/internal/metrics"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/providers/anthropic"
	"github.com/jordanhubbard/routehub/internal/providers/fallback"
	"github.com/jordanhubbard/routehub/internal/providers/gemini"
	"github.com/jordanhubbard/routehub/internal/providers/local"
	"github.com/jordanhubbard/routehub/internal/providers/openai"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
	"github.com/jordanhubbard/routehub/internal/router"
	"github.com/jordanhubbard/routehub/internal/store"
	"github.com/jordanhubbard/routehub/internal/temporal"
	"github.com/jordanhubbard/routehub/internal/tracing"
)

type Server struct {
	mu  sync.Mutex
	cfg Config

	r *chi.Mux

	router   *router.Router
	limiter  *ratelimit.Registry
	routing  *config.File
	vault    *credentials.Vault
	db       *store.SQLiteStore
	audit    store.Store
	temporal *temporal.Manager
	replay   *idempotency.Cache
	logger   *slog.Logger

	shutdownTracing func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)
	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceVersion: Version,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		shutdownTracing: shutdownTracing,
	}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg := s.cfg
	logger := s.logger

	routing, found, err := config.LoadOrDefault(cfg.ConfigPath)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("routing config not found, using built-in defaults", slog.String("path", cfg.ConfigPath))
	}
	s.routing = routing

	// Open store.
	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return err
	}
	s.db = db
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	s.audit = db
	if cfg.AuditBackend == AuditBackendPostgres {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		s.audit = pg
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("postgres audit store initialized")
	}

	s.vault = credentials.NewVault()
	if err := s.vault.Load(ctx, db); err != nil {
		return fmt.Errorf("load vault: %w", err)
	}
	if cfg.VaultPassword != "" {
		if err := s.vault.Unlock([]byte(cfg.VaultPassword)); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}
		if err := s.vault.Save(ctx, db); err != nil {
			return fmt.Errorf("save vault: %w", err)
		}
		logger.Info("vault unlocked")
	}
	creds := credentials.NewResolver(s.vault, credentials.PlatformFromEnv(os.Getenv, router.KnownProviders))

	m := metrics.New()
	s.limiter = ratelimit.New(ratelimit.WithRejections(m.RateLimitRejections))
	m.RegisterInFlight(func() float64 { return float64(s.limiter.InFlight()) })

	var sink audit.Sink = s.audit
	if cfg.TemporalEnabled {
		mgr, err := temporal.New(temporal.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, &temporal.Activities{Store: s.audit})
		if err != nil {
			return err
		}
		s.temporal = mgr
		if err := mgr.Start(); err != nil {
			return fmt.Errorf("temporal worker start: %w", err)
		}
		sink = mgr.Sink()
		logger.Info("temporal audit delivery enabled",
			slog.String("host", cfg.TemporalHostPort),
			slog.String("task_queue", cfg.TemporalTaskQueue),
		)
	}
	recorder := audit.NewRecorder(sink,
		audit.WithFailureCounter(m.AuditFailures),
		audit.WithLogger(logger),
	)

	rcfg := routing.RouterConfig()
	rcfg.DefaultTimeout = time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	s.router = router.New(rcfg, s.limiter,
		router.WithCredentials(creds),
		router.WithPreferences(config.NewPreferences(routing)),
		router.WithAuditor(recorder),
		router.WithObserver(m),
	)
	if err := registerProviders(s.router, routing, rcfg.DefaultTimeout, logger); err != nil {
		return err
	}

	token, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DataDir, logger)
	if err != nil {
		return err
	}

	s.replay = idempotency.New(10*time.Minute, 10000)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Caller-ID", idempotency.Header},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID", "Idempotency-Replay"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:      s.router,
		Limiter:     s.limiter,
		Credentials: creds,
		Metrics:     m,
		Store:       s.audit,
		Vault:       s.vault,
		VaultStore:  db,
		AdminToken:  token,
		Idempotency: s.replay,
	})
	s.r = r
	return nil
}

func (s *Server) Router() http.Handler { return s.r }

// Engine returns the request router.
func (s *Server) Engine() *router.Router { return s.router }

// Reload applies settings that are safe to change without a restart.
func (s *Server) Reload(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.LogLevel != s.cfg.LogLevel {
		logging.SetLevel(cfg.LogLevel)
		s.logger.Info("log level changed", slog.String("level", cfg.LogLevel))
	}
	s.cfg.LogLevel = cfg.LogLevel
}

func (s *Server) Close() error {
	var errs []error
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.replay != nil {
		s.replay.Stop()
	}
	if s.audit != nil && s.audit != store.Store(s.db) {
		errs = append(errs, s.audit.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

// registerProviders builds one adapter per configured provider, in fallback
// order. Outgoing calls go through a traced transport.
func registerProviders(rt *router.Router, routing *config.File, defaultTimeout time.Duration, logger *slog.Logger) error {
	for _, desc := range routing.Descriptors() {
		p, _ := routing.Provider(desc.ID)
		timeout := defaultTimeout
		if desc.Timeout > 0 {
			timeout = desc.Timeout
		}
		client := &http.Client{Timeout: timeout, Transport: tracing.HTTPTransport(nil)}
		opts := []providers.Option{providers.WithHTTPClient(client)}

		var adapter router.Provider
		switch desc.ID {
		case router.ProviderOpenAI:
			adapter = openai.New(p.BaseURL, p.Pricing, opts...)
		case router.ProviderAnthropic:
			adapter = anthropic.New(p.BaseURL, p.Pricing, opts...)
		case router.ProviderGemini:
			adapter = gemini.New(p.BaseURL, p.Pricing, opts...)
		case router.ProviderLocal:
			endpoints := p.Endpoints
			if len(endpoints) == 0 && p.BaseURL != "" {
				endpoints = []string{p.BaseURL}
			}
			adapter = local.New(endpoints, p.Pricing, opts...)
		case router.ProviderFallback:
			adapter = fallback.New(p.Message)
		default:
			return fmt.Errorf("no adapter for provider %q", desc.ID)
		}
		rt.Register(desc, adapter)
		logger.Info("registered provider",
			slog.String("provider", string(desc.ID)),
			slog.String("default_model", desc.DefaultModel),
		)
	}
	return nil
}
