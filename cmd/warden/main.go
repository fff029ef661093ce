package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authcache"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/credentials"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/oauth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
	"github.com/platinummonkey/warden/pkg/users"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version": version,
		"port":    cfg.Server.Port,
	}).Info("Starting warden")

	ctx := context.Background()

	otelCfg := cfg.OTel()
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:      cfg.Storage.PostgresURL,
		MaxConns: cfg.Storage.PostgresMaxConns,
		MinConns: cfg.Storage.PostgresMinConns,
		Timeout:  cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		return err
	}

	// Migrations log through logrus so the entries match the migration tooling output
	migrationLog := logrus.New()
	migrationLog.SetFormatter(&logrus.JSONFormatter{})
	if err := postgres.RunMigrations(ctx, db, migrationLog.WithField("component", "migrations")); err != nil {
		db.Close()
		return err
	}

	ssoStore := sso.NewStorage(db)
	if cfg.Auth.SAMLSeedFile != "" {
		if err := applySeed(ctx, ssoStore, cfg.Auth.SAMLSeedFile, migrationLog.WithField("component", "saml-seed")); err != nil {
			db.Close()
			return err
		}
	}

	cache, err := storage.NewCache(cfg.Storage)
	if err != nil {
		db.Close()
		return fmt.Errorf("init cache: %w", err)
	}
	var redisClient *redis.Client
	if rc, ok := cache.(*storage.RedisCache); ok {
		redisClient = rc.Client()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	reporter := observability.NewTelemetryReporter(logger, metrics)

	cipher, err := auth.NewTokenCipher([]byte(cfg.Auth.TokenCipherSecret))
	if err != nil {
		db.Close()
		return err
	}
	codec, err := session.NewCodec(session.Config{Secret: []byte(cfg.Auth.SessionSecret), Lifetime: cfg.Auth.SessionLifetime}, cipher)
	if err != nil {
		db.Close()
		return err
	}
	samlCodec, err := session.NewSAMLCodec(session.Config{Secret: []byte(cfg.Auth.SAMLSessionSecret), Lifetime: cfg.Auth.SessionLifetime})
	if err != nil {
		db.Close()
		return err
	}
	cookies := &session.CookieStore{Secure: cfg.Auth.CookieSecure, Domain: cfg.Auth.CookieDomain}

	userStore := users.NewStorage(db)
	tracker := async.NewTracker(logger, cfg.Auth.RenewalTimeout)

	accounts := authcache.New(cache, userStore, authcache.NewRemoteSynchronizer(cfg.Auth.SyncURL, cfg.Auth.RenewalTimeout), authcache.Config{
		TTL:     cfg.Storage.CacheTTL,
		Logger:  logger,
		Metrics: metrics,
	})

	exchangers, err := oauth.NewExchangers(&cfg.Providers, cfg.Auth.BaseURL)
	if err != nil {
		db.Close()
		return err
	}
	callback := oauth.NewHandler(userStore, cipher, codec, accounts, tracker, oauth.Config{
		AllowedEmailDomains: cfg.Auth.AllowedEmailDomains,
		Logger:              logger,
		Metrics:             metrics,
		Reporter:            reporter,
	})

	flow := sso.NewFlow(
		ssoStore,
		userStore,
		sso.NewGoSAMLValidator(cfg.Auth.BaseURL),
		credentials.NewClient(&cfg.Providers, cfg.Auth.CredentialTimeout),
		cipher, codec, samlCodec,
		sso.FlowConfig{Logger: logger, Metrics: metrics, Reporter: reporter},
	)

	limiterConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Auth.RateLimitRequests,
		WindowDuration:    cfg.Auth.RateLimitWindow,
	}
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, limiterConfig, "warden:ratelimit:")
	} else {
		local := middleware.NewRateLimiter(limiterConfig)
		local.StartCleanup(limiterCtx)
		limiter = local
	}

	auditLogger, auditDB, err := openAudit(cfg.Observability, db)
	if err != nil {
		db.Close()
		return err
	}
	oauthHandlers := oauth.NewHandlers(callback, exchangers, cookies, cfg.Auth.DashboardURL, logger)
	oauthHandlers.SetAuditLogger(auditLogger)
	samlHandlers := sso.NewHandlers(flow, codec, samlCodec, cookies, cfg.Auth.DashboardURL, logger)
	samlHandlers.SetAuditLogger(auditLogger)
	accountHandlers := api.NewAccountHandlers(accounts, tracker)
	if auditDB != nil {
		accountHandlers.SetAuditReader(auditDB)
	}

	server := api.NewServer(api.Dependencies{
		OAuth:       oauthHandlers,
		SAML:        samlHandlers,
		Accounts:    accountHandlers,
		SessionAuth: middleware.NewSessionAuth(codec, cookies, false),
		RateLimiter: limiter,
		Logger:      logger,
		Metrics:     metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		metricsRegistry = registry
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      api.NewHealthRouter(observability.NewHealthChecker(db, redisClient, version), metricsRegistry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.Register(func(context.Context) error {
		stopLimiter()
		return db.Close()
	})
	if c, ok := cache.(*storage.RedisCache); ok {
		shutdown.Register(func(context.Context) error { return c.Close() })
	}
	shutdown.Register(func(context.Context) error { return auditLogger.Close() })
	shutdown.Register(providers.Shutdown)
	shutdown.Register(tracker.Wait)

	serve(logger, healthServer, "health")
	serve(logger, httpServer, "api")

	return shutdown.WaitForSignal()
}

// applySeed provisions the accounts and IdP configurations declared in path
func applySeed(ctx context.Context, store *sso.Storage, path string, log *logrus.Entry) error {
	seed, err := sso.LoadSeed(path)
	if err != nil {
		return err
	}
	written, err := store.ApplySeed(ctx, seed)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":      path,
		"accounts":  len(seed.Accounts),
		"providers": written,
	}).Info("Applied SAML seed")
	return nil
}

// openAudit builds the audit sinks enabled in cfg
func openAudit(cfg config.ObservabilityConfig, db *sql.DB) (*audit.MultiLogger, *audit.DBLogger, error) {
	var sinks []audit.Logger
	var dbLogger *audit.DBLogger
	if cfg.AuditDBEnabled {
		l, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		dbLogger = l
		sinks = append(sinks, l)
	}
	if cfg.AuditLogDir != "" {
		l, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: cfg.AuditLogDir})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, l)
	}
	return audit.NewMultiLogger(sinks...), dbLogger, nil
}

func serve(logger *observability.Logger, srv *http.Server, name string) {
	go func() {
		logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("%s server failed", name)
			os.Exit(1)
		}
	}()
}
