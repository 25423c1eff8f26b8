package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"pdf_gateway/internal/config"
	"pdf_gateway/internal/executor"
	"pdf_gateway/internal/jobs"
	"pdf_gateway/internal/logging"
	"pdf_gateway/internal/middleware"
	"pdf_gateway/internal/pdf"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/quota"
	"pdf_gateway/internal/ratelimit"
	"pdf_gateway/internal/storage"
	"pdf_gateway/internal/utils"
)

// NewRouter creates an HTTP router with all dependencies wired up.
// The returned cleanup stops background workers and closes connections.
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, func(), error) {
	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	quotaStore := storage.NewQuotaStore(db)

	// Rate limiting degrades to no-op without Redis; quota enforcement
	// does not depend on it.
	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	var closeRedis func()
	if cfg.Redis.Enabled {
		redisClient, err := storage.NewRedisClient(cfg.Redis)
		if err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		limiter = ratelimit.NewRateLimiter(redisClient)
		closeRedis = func() { _ = redisClient.Close() }
	}

	catalog := plans.DefaultCatalog()
	if cfg.Plans.File != "" {
		catalog, err = plans.LoadCatalog(cfg.Plans.File)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load plan catalog: %w", err)
		}
	}

	ledger := quota.NewLedger(catalog, quotaStore, quotaStore,
		quota.WithTTL(cfg.Processing.ReservationTTL))

	exec, err := executor.New(cfg.Processing.Concurrency, cfg.Processing.LogQueueTimings)
	if err != nil {
		return nil, nil, nil, err
	}

	var sink logging.Sink = logging.NewNoopSink()
	var closeSink func()
	if cfg.AuditSink.Enabled {
		writer, err := logging.NewS3Writer(context.Background(),
			cfg.AuditSink.S3Bucket, cfg.AuditSink.S3Region,
			cfg.AuditSink.S3Prefix, cfg.AuditSink.PodName)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize audit sink: %w", err)
		}
		s3Sink := logging.NewS3Sink(writer, cfg.AuditSink)
		sink = s3Sink
		closeSink = func() { _ = s3Sink.Close() }
	}

	var sweeper *quota.Sweeper
	if cfg.Processing.SweepInterval > 0 {
		sweeper = quota.NewSweeper(quotaStore, cfg.Processing.SweepInterval)
		sweeper.Start()
	}

	tools := pdf.NewTools(cfg.Processing)
	logger := utils.NewLogger("httpapi")
	// mutool recolor only exists in recent MuPDF releases; surface that at
	// startup instead of on the first engine=mupdf request.
	if err := tools.EnsureMuPDFRecolor(context.Background()); err != nil {
		logger.Warn("mupdf engine unavailable, grayscale requests with engine=mupdf will fail", "error", err)
	}

	deps := &Dependencies{
		Config:       cfg,
		DB:           db,
		APIKeys:      storage.NewAPIKeyRepository(db),
		Catalog:      catalog,
		Ledger:       ledger,
		Orchestrator: jobs.NewOrchestrator(ledger, exec),
		Tools:        tools,
		Audit:        sink,
		logger:       logger,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, limiter)

	cleanup := func() {
		if sweeper != nil {
			sweeper.Stop()
		}
		if closeSink != nil {
			closeSink()
		}
		if closeRedis != nil {
			closeRedis()
		}
		_ = db.Close()
	}

	return mux, deps, cleanup, nil
}

// registerRoutes wires handlers to paths with their middleware chains.
func registerRoutes(mux *http.ServeMux, deps *Dependencies, limiter ratelimit.Limiter) {
	cfg := deps.Config

	session := middleware.SessionMiddleware(cfg.SessionSecret)
	apiKey := middleware.APIKeyMiddleware(deps.APIKeys)
	testLimit := middleware.RateLimitMiddleware(limiter, "test", cfg.RateLimit.TestLimit, cfg.RateLimit.Window, cfg.RateLimit.TrustProxy)
	apiLimit := middleware.RateLimitMiddleware(limiter, "api", cfg.RateLimit.APILimit, cfg.RateLimit.Window, cfg.RateLimit.TrustProxy)

	mux.HandleFunc("GET /health", deps.handleHealth)

	// Anonymous demo preflight, throttled per client address.
	mux.Handle("POST /process/preflight-test", testLimit(http.HandlerFunc(deps.handleTestDocument)))

	// Dashboard processing routes, session authenticated.
	mux.Handle("POST /process/preflight", session(deps.preflightHandler(cfg.Upload.PreflightMaxBytes)))
	mux.Handle("POST /process/grayscale", session(http.HandlerFunc(deps.handleGrayscale)))

	// Programmatic processing routes, API-key authenticated and
	// throttled per account.
	mux.Handle("POST /api/process/analyze", apiKey(apiLimit(deps.preflightHandler(cfg.Upload.ProcessMaxBytes))))
	mux.Handle("POST /api/process/grayscale", apiKey(apiLimit(http.HandlerFunc(deps.handleGrayscale))))

	// Account routes, session authenticated.
	mux.Handle("GET /api/usage", session(http.HandlerFunc(deps.handleUsage)))
	mux.Handle("GET /api/subscription", session(http.HandlerFunc(deps.handleSubscription)))
	mux.Handle("POST /api/keys", session(http.HandlerFunc(deps.handleCreateAPIKey)))
	mux.Handle("GET /api/keys", session(http.HandlerFunc(deps.handleListAPIKeys)))
	mux.Handle("DELETE /api/keys/{id}", session(http.HandlerFunc(deps.handleDeleteAPIKey)))
}
