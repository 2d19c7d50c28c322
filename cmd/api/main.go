package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/cache"
	"eventsnap/internal/config"
	httphandler "eventsnap/internal/http"
	"eventsnap/internal/ingest"
	"eventsnap/internal/repo"
	"eventsnap/internal/services/janitor"
	"eventsnap/internal/services/llm"
	"eventsnap/internal/services/pipeline"
	"eventsnap/internal/services/queue"
	"eventsnap/internal/services/quota"
	"eventsnap/internal/services/scrape"
)

func main() {
	// Parse command line flags
	var (
		importPath = flag.String("import", "", "Import events from a JSON file or directory and exit")
		port       = flag.String("port", "", "Port to run the server on (overrides PORT)")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize event store
	store, err := newEventStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	// If import path is set, load the events and exit
	if *importPath != "" {
		res, err := ingest.NewLoader(store).Load(ctx, *importPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *importPath).Msg("Import failed")
		}
		log.Info().
			Int("files", res.Files).
			Int("read", res.Read).
			Int("invalid", res.Invalid).
			Int("duplicates", res.Duplicates).
			Int("saved", res.Saved).
			Msg("Import finished")
		return
	}

	// Redis is optional: it backs the quota counters and the scrape cache.
	readiness := map[string]httphandler.Pinger{"store": store}
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisCache.Close()
		readiness["redis"] = redisCache
	}

	// Initialize LLM client
	llmClient, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	scrapeOpts := scrape.Options{
		Client:       &http.Client{Timeout: cfg.Scrape.Timeout},
		UserAgent:    cfg.Scrape.UserAgent,
		Concurrency:  cfg.Scrape.Concurrency,
		MaxBodyBytes: cfg.Scrape.MaxBodyBytes,
		CacheTTL:     cfg.Scrape.CacheTTL,
	}
	if redisCache != nil {
		scrapeOpts.Cache = redisCache
	}

	var dailyQuota *quota.Quota
	if cfg.Quota.Enabled {
		var counters quota.Store = quota.NewMemoryStore(nil)
		if redisCache != nil {
			counters = quota.NewRedisStore(redisCache)
		}
		dailyQuota = quota.New(counters, cfg.Quota.DailyLimit, nil)
	}

	// Initialize services
	jobs := queue.New(ctx, queue.Options{Concurrency: cfg.Queue.Concurrency})
	svc := pipeline.New(pipeline.Options{
		Extractor: llmClient,
		Scraper:   scrape.New(scrapeOpts),
		Quota:     dailyQuota,
		Queue:     jobs,
	})

	// Start queue janitor
	sweeper := janitor.New(jobs, cfg.Janitor.Retention)
	sweeper.Start(cfg.Janitor.Interval)
	defer sweeper.Stop()

	// Initialize HTTP router
	router := httphandler.NewRouter(httphandler.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,

		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	// Register routes
	router.RegisterHealthRoutes(readiness)
	router.RegisterEventRoutes(httphandler.NewEventsHandler(httphandler.HandlerOptions{
		Pipeline:     svc,
		Store:        store,
		Queue:        jobs,
		QuotaEnabled: cfg.Quota.Enabled,
	}), cfg.Server.RequestTimeout)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("model", llmClient.Model()).
			Bool("quota", cfg.Quota.Enabled).
			Bool("redis", redisCache != nil).
			Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Abort running jobs and wait for their processors to return.
	cancel()
	jobs.Wait()

	log.Info().Msg("Server stopped")
}

func newEventStore(ctx context.Context, cfg config.DatabaseConfig) (repo.EventStore, error) {
	if cfg.URL == "" {
		log.Warn().Msg("POSTGRES_URL not set, keeping events in memory")
		return repo.NewMemoryStore(), nil
	}
	return repo.NewPostgresStore(ctx, cfg.URL)
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
