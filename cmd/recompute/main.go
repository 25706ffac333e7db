package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/database"
	"github.com/stemsi/exstem-analytics/internal/logger"
	"github.com/stemsi/exstem-analytics/internal/repository"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// recompute runs a single stale-snapshot sweep and exits. Meant for cron
// deployments that do not run the in-server sweep.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	snapshotService := service.NewSnapshotService(
		repository.NewExamDefinitionRepository(pool),
		repository.NewAnswerSheetRepository(pool),
		repository.NewSnapshotRepository(pool),
		repository.NewRecomputeJobRepository(pool),
		service.SnapshotConfigFrom(cfg),
		log,
	)

	sum, err := snapshotService.RecomputeStaleSnapshots(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Sweep failed")
		pool.Close()
		os.Exit(1)
	}

	log.Info().
		Int("scanned", sum.Scanned).
		Int("processed", sum.Processed).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Msg("Sweep finished")

	if sum.Failed > 0 {
		pool.Close()
		os.Exit(2)
	}
}
