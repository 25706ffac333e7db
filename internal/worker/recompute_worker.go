package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// Sweeper runs one stale-snapshot sweep.
type Sweeper interface {
	RecomputeStaleSnapshots(ctx context.Context) (service.RecomputeSummary, error)
}

// RecomputeWorker runs the stale-snapshot sweep on a fixed interval.
type RecomputeWorker struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
}

func NewRecomputeWorker(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *RecomputeWorker {
	return &RecomputeWorker{
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "recompute_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled. Sweeps never overlap: the next tick
// is only taken after the previous sweep returned.
func (w *RecomputeWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("RecomputeWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("RecomputeWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RecomputeWorker) sweep(ctx context.Context) {
	start := time.Now()
	sum, err := w.sweeper.RecomputeStaleSnapshots(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Stale sweep failed")
		return
	}
	if sum.Processed == 0 {
		w.log.Debug().Int("scanned", sum.Scanned).Msg("Stale sweep found nothing to do")
		return
	}
	w.log.Info().
		Int("scanned", sum.Scanned).
		Int("processed", sum.Processed).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Dur("took", time.Since(start)).
		Msg("Stale sweep finished")
}
