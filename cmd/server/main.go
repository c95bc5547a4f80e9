package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ayush/factcheck-agent/internal/auth"
	"github.com/ayush/factcheck-agent/internal/config"
	"github.com/ayush/factcheck-agent/internal/middleware"
	"github.com/ayush/factcheck-agent/internal/observability"
	"github.com/ayush/factcheck-agent/internal/research"
	"github.com/ayush/factcheck-agent/internal/store"
)

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer pgPool.Close()
	pgStore := store.NewPostgresStore(pgPool)
	if err := pgStore.Migrate(ctx); err != nil {
		logger.Fatal("postgres migrate", zap.Error(err))
	}

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	defer mongoClient.Disconnect(ctx)
	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.MongoDB))
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo indexes", zap.Error(err))
	}

	// ── Redis ────────────────────────────────────────────────
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// ── MinIO ────────────────────────────────────────────────
	minioStore, err := store.NewMinioStore(ctx, store.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Fatal("minio connect", zap.Error(err))
	}

	// ── Metrics ──────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// ── Reasoning model ──────────────────────────────────────
	llmCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	llmCfg.BaseURL = cfg.LLMBaseURL
	llm := openai.NewClientWithConfig(llmCfg)

	// ── Search ───────────────────────────────────────────────
	var searcher research.Searcher
	searchProvider := "serper"
	if cfg.SearchAPIKey != "" {
		searcher = research.NewSerperSearcher(cfg.SearchAPIKey, cfg.SearchURL)
	} else {
		searcher = research.NewDuckDuckGoSearcher("")
		searchProvider = "duckduckgo"
	}
	fetcher := research.NewPageFetcher(cfg.Research.FetchTimeout, cfg.Research.FetchRPS)

	// ── Pipeline ─────────────────────────────────────────────
	validate := research.NewValidator()
	extractor := research.NewWebContextExtractor(llm, searcher, fetcher, research.ExtractorConfig{
		Model:            cfg.LLMModel,
		MaxToolCalls:     cfg.Research.MaxToolCalls,
		FetchConcurrency: cfg.Research.FetchConcurrency,
		ContextBudget:    cfg.Research.ContextBudget,
		AgentTimeout:     cfg.Research.AgentTimeout,
		SearchTimeout:    cfg.Research.SearchTimeout,
		FetchTimeout:     cfg.Research.FetchTimeout,
	}, metrics, logger.Named("extractor"))
	researcher := research.NewLLMResearcher(llm, research.LLMConfig{
		Model:    cfg.LLMModel,
		Timeout:  cfg.Research.LLMTimeout,
		Attempts: cfg.Research.LLMAttempts,
		Backoff:  time.Second,
	}, validate, logger.Named("llm"))

	orchestrator := research.NewOrchestrator(research.Deps{
		Profiles:  research.NewProfileResolver(pgStore),
		Dedup:     research.NewDeduplicator(pgStore, store.NewFingerprintCache(rdb, cfg.Research.DedupCacheTTL), logger.Named("dedup")),
		Web:       extractor,
		LLM:       researcher,
		Resources: research.NewResourceAnalyzer(research.DefaultDomainRules()),
		Results:   pgStore,
		Traces:    mongoStore,
		Evidence:  minioStore,
		Metrics:   metrics,
		Log:       logger.Named("pipeline"),
	}, research.OrchestratorConfig{
		ThinContextChars:  cfg.Research.ThinContextChars,
		ContextBudget:     cfg.Research.ContextBudget,
		SideEffectTimeout: cfg.Research.SideEffectTimeout,
	})

	// ── Handlers ─────────────────────────────────────────────
	verifier := auth.NewVerifier(pgStore, auth.NewKeyCache(rdb, cfg.Research.APIKeyCacheTTL), logger.Named("auth"))
	researchHandler := research.NewHandler(research.HandlerDeps{
		Pipeline: orchestrator,
		Results:  pgStore,
		Profiles: pgStore,
		Traces:   mongoStore,
		Evidence: minioStore,
		Validate: validate,
		Capabilities: research.Capabilities{
			Model:          cfg.LLMModel,
			SearchProvider: searchProvider,
			MaxToolCalls:   cfg.Research.MaxToolCalls,
			ContextBudget:  cfg.Research.ContextBudget,
			TriFactor:      true,
			Traces:         true,
			Evidence:       true,
		},
		Log: logger.Named("http"),
	})

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", researchHandler.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/auth", func(r chi.Router) {
		r.With(middleware.RequireAPIKey(verifier)).Get("/me", auth.Me)
	})

	r.Get("/api/categories", researchHandler.Categories)

	r.Route("/api/profiles", func(r chi.Router) {
		r.Get("/", researchHandler.FindProfiles)
		r.Get("/{id}", researchHandler.GetProfile)
		r.Get("/{id}/stats", researchHandler.ProfileStats)
		r.With(middleware.RequireAPIKey(verifier)).Patch("/{id}", researchHandler.UpdateProfile)
	})

	r.Route("/api/research", func(r chi.Router) {
		r.With(middleware.RequireAPIKey(verifier)).Post("/", researchHandler.Create)
		r.Get("/", researchHandler.Search)
		r.Get("/{id}", researchHandler.Get)
		r.Get("/{id}/trace", researchHandler.Trace)
		r.Get("/{id}/evidence/{n}", researchHandler.DownloadEvidence)
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		logger.Info("backend listening", zap.String("port", cfg.Port), zap.String("search", searchProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}
