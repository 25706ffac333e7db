package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
)

const (
	SheetBatchSize    = 200
	SheetBatchTimeout = 2 * time.Second
	SheetPollTimeout  = 1 * time.Second
)

// SheetStore is where the worker persists sheets.
type SheetStore interface {
	Upsert(ctx context.Context, s *model.AnswerSheet) error
	UpsertBatch(ctx context.Context, sheets []model.AnswerSheet) error
}

// Invalidator flags a snapshot for recompute once its sheet changed.
type Invalidator interface {
	InvalidateStudent(ctx context.Context, examID uuid.UUID, studentID int) error
}

// SheetWorker consumes persist_sheets_queue and upserts sheets in batches.
type SheetWorker struct {
	sheets      SheetStore
	invalidator Invalidator
	rdb         *redis.Client
	log         zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
}

func NewSheetWorker(sheets SheetStore, invalidator Invalidator, rdb *redis.Client, log zerolog.Logger) *SheetWorker {
	return &SheetWorker{
		sheets:       sheets,
		invalidator:  invalidator,
		rdb:          rdb,
		log:          log.With().Str("component", "sheet_worker").Logger(),
		batchSize:    SheetBatchSize,
		batchTimeout: SheetBatchTimeout,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SheetWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SheetWorker started")

	batch := make([]model.AnswerSheet, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			poll := SheetPollTimeout
			if w.batchTimeout < poll {
				poll = w.batchTimeout
			}
			item, err := w.rdb.BLPop(ctx, poll, config.WorkerKey.PersistSheetsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var sh model.AnswerSheet
			if err := json.Unmarshal([]byte(item[1]), &sh); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, sh)
		}
	}
}

// ----------------------------------------------------------------
// Batch upsert with single-row fallback
// ----------------------------------------------------------------

func (w *SheetWorker) flushSafe(ctx context.Context, batch []model.AnswerSheet) {
	if len(batch) == 0 {
		return
	}

	if err := w.sheets.UpsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk sheet upsert failed, using fallback")

		for i := range batch {
			sh := batch[i]
			if err := w.sheets.Upsert(ctx, &sh); err != nil {
				w.log.Error().Err(err).Int("student_id", sh.StudentID).Msg("single upsert failed, requeueing")
				raw, _ := json.Marshal(sh)
				w.rdb.RPush(ctx, config.WorkerKey.PersistSheetsQueue, raw)
				continue
			}
			w.invalidate(ctx, sh)
		}
		return
	}

	for _, sh := range batch {
		w.invalidate(ctx, sh)
	}
	w.log.Debug().Int("size", len(batch)).Msg("Sheet batch persisted")
}

func (w *SheetWorker) invalidate(ctx context.Context, sh model.AnswerSheet) {
	if err := w.invalidator.InvalidateStudent(ctx, sh.ExamID, sh.StudentID); err != nil {
		w.log.Warn().Err(err).Int("student_id", sh.StudentID).Msg("Failed to invalidate snapshot")
	}
}
