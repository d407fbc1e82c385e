// Package main is the entry point for the trawl-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trawlhq/trawl-api/internal/auth"
	"github.com/trawlhq/trawl-api/internal/browser"
	"github.com/trawlhq/trawl-api/internal/config"
	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/database"
	"github.com/trawlhq/trawl-api/internal/database/migrations"
	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/http/handlers"
	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/http/routes"
	"github.com/trawlhq/trawl-api/internal/kv"
	"github.com/trawlhq/trawl-api/internal/logging"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/progress"
	"github.com/trawlhq/trawl-api/internal/queue"
	"github.com/trawlhq/trawl-api/internal/repository"
	"github.com/trawlhq/trawl-api/internal/scheduler"
	"github.com/trawlhq/trawl-api/internal/service"
	"github.com/trawlhq/trawl-api/internal/version"
	"github.com/trawlhq/trawl-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting trawl-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Run(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Redis backs the queues, crawl progress counters, and the scheduler lock
	redisClient, err := kv.New(context.Background(), kv.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	queues := queue.NewRegistry(redisClient)

	// Fetch engines. The static engine is always available; the browser
	// engines need the browser service sidecar.
	engines := map[models.Engine]engine.Engine{
		models.EngineCheerio: engine.NewStatic(cfg.NavTimeout, logger),
	}
	if cfg.BrowserEnabled() {
		browserClient := browser.NewClient(browser.ClientConfig{
			BaseURL: cfg.BrowserServiceURL,
			Secret:  cfg.BrowserSigningKey,
			Timeout: cfg.NavTimeout + cfg.CaptchaSolverTimeout,
			Logger:  logger,
		})
		browserCfg := engine.BrowserConfig{
			NavTimeout:      cfg.NavTimeout,
			NavWaitUntil:    cfg.NavWaitUntil,
			SolveTimeout:    cfg.CaptchaSolverTimeout,
			SolveMaxRetries: cfg.CaptchaSolverMaxRetries,
		}
		engines[models.EnginePlaywright] = engine.NewBrowser(browserClient, models.EnginePlaywright, browserCfg, logger)
		engines[models.EnginePuppeteer] = engine.NewBrowser(browserClient, models.EnginePuppeteer, browserCfg, logger)
		logger.Info("browser engines enabled", "url", cfg.BrowserServiceURL)
	}

	// Initialize services
	services, err := service.NewServices(cfg, db, repos, redisClient, queues, engines, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Scheduler drives cron-scheduled tasks. The task service needs it for
	// manual triggers even when the poll loop is disabled in this process.
	sched := scheduler.New(db, repos, queues, redisClient, services.Webhook, services.Inline,
		services.Progress, config.DefaultBillingConfig(), cfg.CreditsEnabled,
		cfg.SchedulerSyncInterval, logger)
	services.Task.SetTriggers(sched)
	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		logger.Info("scheduler started", "sync_interval", cfg.SchedulerSyncInterval.String())
	}

	// Worker pool consumes the scrape and crawl queues
	workerHandlers := worker.NewHandlers(services.Scrape, services.Crawl, logger)
	pool := worker.New(queues, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
	}, workerHandlers.OnExhausted, logger)
	workerHandlers.RegisterAll(pool)
	pool.Start(ctx)

	// Finalize sweeper catches crawls whose last page result was lost
	sweeper := progress.NewSweeper(redisClient, services.Progress, repos.Job, cfg.FinalizeSweepInterval, logger)
	sweeper.Start(ctx)

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	router.Use(mw.Cache(mw.DefaultCacheConfig()))

	// Request timeout middleware with different timeouts per endpoint type
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  constants.DefaultRequestTimeout,
		Extended: constants.SyncRequestTimeout,
		// Synchronous extraction waits on origin fetches
		ExtendedPatterns: []string{"/scrape", "/search", "/map"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit - prevent large payload attacks
	router.Use(middleware.RequestSize(constants.MaxRequestBodySize))

	// Global rate limit by IP (fallback for unauthenticated requests)
	// Authenticated keys get tier-based limits applied later
	router.Use(mw.RateLimitByIP(cfg.RateLimitPerMinute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(constants.GlobalConcurrencyLimit))

	// Target URL blocklist. Without storage only the built-in private
	// network rules apply.
	blocklistCfg := mw.URLBlocklistConfig{Logger: logger}
	if services.Storage.IsEnabled() {
		blocklistCfg.S3Client = services.Storage.Client()
		blocklistCfg.Bucket = cfg.StorageBucket
		blocklistCfg.Key = "config/blocklist.json"

		// Tier settings overrides (credit grants, task limits) from S3
		constants.InitTierLoader(constants.TierSettingsConfig{
			S3Client: services.Storage.Client(),
			Bucket:   cfg.StorageBucket,
			Key:      "config/tier_settings.json",
			Logger:   logger,
		})
	}
	blocklist := mw.NewURLBlocklist(blocklistCfg)

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize encryptor", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	authSvc := service.NewAuthService(repos, logger)
	keySvc := service.NewAPIKeyService(repos, logger)

	h := handlers.New(handlers.Config{
		DB:        db,
		Redis:     redisClient,
		Services:  services,
		Repos:     repos,
		Keys:      keySvc,
		Encryptor: encryptor,
		Blocklist: blocklist,
		BaseURL:   cfg.BaseURL,
	})
	rh := routes.FromHandlers(h)

	// Main API with OpenAPI docs serves the public routes
	humaConfig := routes.NewHumaConfig(cfg.BaseURL)
	api := humachi.New(router, humaConfig)
	routes.RegisterPublic(api, rh)

	// Config for protected routes. Docs are served by the main API; the full
	// spec comes from the trawl-openapi generator.
	protectedConfig := routes.NewHumaConfig(cfg.BaseURL)
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Read and management routes
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(verifier, authSvc))
		r.Use(mw.RateLimitByClaims(mw.DefaultRateLimitConfig()))

		protectedAPI := humachi.New(r, protectedConfig)
		routes.RegisterProtected(protectedAPI, rh)
	})

	// Job-creating routes with concurrency gating
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(verifier, authSvc))
		r.Use(mw.RateLimitByClaims(mw.DefaultRateLimitConfig()))
		r.Use(mw.RequireConcurrentJobLimit(repos.Job))
		r.Use(mw.ExtendWriteDeadlineForSyncRequests("/scrape", "/search", "/map"))

		extractionAPI := humachi.New(r, protectedConfig)
		routes.RegisterExtraction(extractionAPI, rh)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop background work first so in-flight jobs finish or requeue
		cancel()
		if cfg.SchedulerEnabled {
			sched.Stop()
		}
		pool.Stop()
		sweeper.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "environment", cfg.Environment)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
