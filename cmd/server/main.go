package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/cache"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/database"
	"github.com/stemsi/exstem-analytics/internal/handler"
	"github.com/stemsi/exstem-analytics/internal/llm"
	"github.com/stemsi/exstem-analytics/internal/logger"
	"github.com/stemsi/exstem-analytics/internal/repository"
	"github.com/stemsi/exstem-analytics/internal/router"
	"github.com/stemsi/exstem-analytics/internal/service"
	"github.com/stemsi/exstem-analytics/internal/validator"
	"github.com/stemsi/exstem-analytics/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Analytics")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	definitionRepo := repository.NewExamDefinitionRepository(pool)
	sheetRepo := repository.NewAnswerSheetRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(pool)
	jobRepo := repository.NewRecomputeJobRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	snapshotCfg := service.SnapshotConfigFrom(cfg)

	authService := service.NewAuthService(cfg.JWTSecret)
	snapshotService := service.NewSnapshotService(definitionRepo, sheetRepo, snapshotRepo, jobRepo, snapshotCfg, log)

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty, coach will serve fallback commentary")
	}
	coachService := service.NewCoachService(
		llm.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel),
		cache.NewRedisLocker(rdb),
		cache.NewRedisCommentaryStore(rdb),
		service.CoachConfig{
			CacheTTL:        cfg.AICacheTTL,
			LockTTL:         cfg.AILockTTL,
			WaitTimeout:     cfg.AIWaitTimeout,
			GenerateTimeout: cfg.AIGenerateTimeout,
		},
		log,
	)
	examService := service.NewExamService(definitionRepo, sheetRepo, snapshotService, rdb, snapshotCfg.Policy, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Analytics: handler.NewAnalyticsHandler(snapshotService, coachService),
		Admin:     handler.NewAdminHandler(examService, snapshotService, log),
		WS:        handler.NewWSHandler(snapshotService, coachService, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(rdb, snapshotService, coachService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sheetWorker := worker.NewSheetWorker(sheetRepo, snapshotService, rdb, log)
	recomputeWorker := worker.NewRecomputeWorker(snapshotService, cfg.RecomputeInterval, log)

	workers.Go(func() { sheetWorker.Start(workerCtx) })
	workers.Go(func() { recomputeWorker.Start(workerCtx) })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the sheet worker flushes its last batch.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
