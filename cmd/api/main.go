package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kue-app/backend/internal/ai"
	"github.com/kue-app/backend/internal/api"
	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/cache"
	"github.com/kue-app/backend/internal/config"
	"github.com/kue-app/backend/internal/credits"
	"github.com/kue-app/backend/internal/database"
	"github.com/kue-app/backend/internal/jobs"
	"github.com/kue-app/backend/internal/logger"
	"github.com/kue-app/backend/internal/payment"
	"github.com/kue-app/backend/internal/realtime"
	"github.com/kue-app/backend/internal/repository"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.IsDevelopment())

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().Str("env", cfg.Env).Msg("starting Kue API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	checks := []handlers.Check{{Name: "postgres", Fn: db.Ping}}

	// Balance pushes fan out through Redis so every API instance sees them.
	var broker realtime.Broker
	redisCache, err := cache.NewRedisFromURL(cfg.RedisURL)
	switch {
	case err == nil:
		defer redisCache.Close()
		broker = realtime.NewRedisBroker(redisCache)
		checks = append(checks, handlers.Check{Name: "redis", Fn: redisCache.Health})
	case cfg.IsProduction():
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	default:
		log.Warn().Err(err).Msg("Redis unavailable, balance pushes stay in-process")
		broker = realtime.NewMemoryBroker()
	}

	// Credit ledger
	ledger := credits.NewLedger(
		credits.NewPostgresStore(db, credits.Policy{
			FreeCredits:    cfg.FreeCredits,
			RefillInterval: cfg.RefillInterval,
		}),
		credits.WithPublisher(realtime.NewLedgerPublisher(broker)),
	)

	// Reply generation
	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.LLMProvider).Msg("failed to create LLM client")
	}
	replies := ai.NewReplyService(completer,
		ai.WithModels(cfg.ModelText, cfg.ModelVision),
		ai.WithReplyCount(cfg.ReplyCount),
		ai.WithTimeout(cfg.LLMTimeout),
	)

	// Repositories
	users := repository.NewUserRepository(db)
	profiles := repository.NewProfileRepository(db)

	// Payments
	events := payment.NewPostgresEventStore(db)
	if cfg.RazorpayKeyID == "" {
		log.Warn().Msg("RAZORPAY_KEY_ID not set, order creation disabled")
	}

	// Maintenance
	scheduler, err := jobs.NewScheduler(events, jobs.Config{
		Schedule:  cfg.CleanupSchedule,
		Retention: cfg.WebhookEventRetention,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	scheduler.Start()

	// Create HTTP server. No WriteTimeout: the balance stream is long-lived
	// and generation waits on the LLM.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Create router
	server.Handler = api.NewRouter(api.Deps{
		Config:     cfg,
		Ledger:     ledger,
		Broker:     broker,
		Generator:  replies,
		Profiles:   profiles,
		Users:      users,
		Catalog:    payment.NewCatalog(cfg.ProPlanAmount, cfg.ProPlanCurrency),
		Orders:     payment.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayBaseURL, 0),
		Webhooks:   payment.NewWebhookProcessor(cfg.RazorpayWebhookSecret, events, users, ledger),
		Checks:     checks,
		OnShutdown: server.RegisterOnShutdown,
	})

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Give outstanding requests time to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newCompleter(ctx context.Context, cfg *config.Config) (ai.ChatCompleter, error) {
	if cfg.LLMProvider == "gemini" {
		g, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	if cfg.GroqAPIKey == "" {
		log.Warn().Msg("GROQ_API_KEY not set, generation requests will fail")
	}
	return ai.NewGroqClientWithOptions(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.LLMTimeout), nil
}
