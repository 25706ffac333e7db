package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/repository"
	"github.com/stemsi/exstem-analytics/internal/scoring"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Domain Errors
var (
	ErrPersistence  = errors.New("snapshot persistence failed")
	errSheetMissing = errors.New("answer sheet not found")
)

// DefinitionStore reads and writes exam definitions.
type DefinitionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	Upsert(ctx context.Context, d *model.ExamDefinition) error
}

// SheetStore reads and writes raw answer sheets.
type SheetStore interface {
	Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.AnswerSheet, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AnswerSheet, error)
	Watermark(ctx context.Context, examID uuid.UUID) (model.SheetWatermark, error)
	Upsert(ctx context.Context, s *model.AnswerSheet) error
	UpsertBatch(ctx context.Context, sheets []model.AnswerSheet) error
}

// SnapshotStore persists snapshots. Save must only replace a snapshot with
// an older ComputedAt.
type SnapshotStore interface {
	Get(ctx context.Context, key model.SnapshotKey) (*model.Snapshot, error)
	Save(ctx context.Context, s *model.Snapshot) (bool, error)
	MarkStale(ctx context.Context, key model.SnapshotKey) error
	MarkExamStale(ctx context.Context, examID uuid.UUID) (int64, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]model.SnapshotKey, error)
	ListKeys(ctx context.Context) ([]model.SnapshotKey, error)
	History(ctx context.Context, studentID int, before time.Time) ([]float64, error)
}

// JobStore tracks recompute jobs.
type JobStore interface {
	Create(ctx context.Context, key model.SnapshotKey) (*model.RecomputeJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	SupersedePending(ctx context.Context, key model.SnapshotKey) (int64, error)
}

// SnapshotConfig tunes the snapshot service.
type SnapshotConfig struct {
	Policy    scoring.Policy
	Analytics analytics.Config
	// TTL is how long a snapshot stays fresh when nothing changes.
	TTL time.Duration
	// Concurrency bounds parallel recomputes in a sweep.
	Concurrency int
	// MaxRetries bounds persistence attempts per compute.
	MaxRetries     int
	InitialBackoff time.Duration
}

// SnapshotConfigFrom maps the environment configuration onto SnapshotConfig.
func SnapshotConfigFrom(cfg *config.Config) SnapshotConfig {
	return SnapshotConfig{
		Policy: scoring.Policy{
			PenaltyDivisor: int64(cfg.PenaltyDivisor),
			Decimals:       cfg.ScoreDecimals,
			Options:        scoring.DefaultPolicy().Options,
		},
		Analytics: analytics.Config{
			MinSampleSize:          cfg.MinSampleSize,
			MasteryThreshold:       cfg.MasteryThreshold,
			StrengthThreshold:      cfg.StrengthThreshold,
			LowConfidenceThreshold: cfg.LowConfidenceThreshold,
			TargetAnswers:          cfg.TargetAnswers,
			TargetPopulation:       cfg.TargetPopulation,
		},
		TTL:            cfg.SnapshotTTL,
		Concurrency:    cfg.RecomputeConcurrency,
		MaxRetries:     cfg.PersistMaxRetries,
		InitialBackoff: cfg.PersistInitialBackoff,
	}
}

// SnapshotService owns when analytics snapshots are computed. It is the only
// writer of snapshots.
type SnapshotService struct {
	defs   DefinitionStore
	sheets SheetStore
	snaps  SnapshotStore
	jobs   JobStore
	cfg    SnapshotConfig
	log    zerolog.Logger

	group        singleflight.Group
	computations atomic.Int64
	now          func() time.Time

	populations *populationMemo
}

// NewSnapshotService creates a new SnapshotService.
func NewSnapshotService(
	defs DefinitionStore,
	sheets SheetStore,
	snaps SnapshotStore,
	jobs JobStore,
	cfg SnapshotConfig,
	log zerolog.Logger,
) *SnapshotService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &SnapshotService{
		defs:   defs,
		sheets: sheets,
		snaps:  snaps,
		jobs:   jobs,
		cfg:    cfg,
		log:    log.With().Str("component", "snapshot_service").Logger(),
		now:    time.Now,

		populations: newPopulationMemo(maxMemoizedExams),
	}
}

// Computations returns how many times analytics were actually computed.
func (s *SnapshotService) Computations() int64 {
	return s.computations.Load()
}

// GetStudentAnalytics returns a fresh snapshot, computing it when missing,
// stale or out of date. It never returns a bare error: failures come back as
// a result with a machine-readable kind, and a previous snapshot is served
// when a recompute fails.
func (s *SnapshotService) GetStudentAnalytics(ctx context.Context, examID uuid.UUID, studentID int) AnalyticsResult {
	key := model.SnapshotKey{ExamID: examID, StudentID: studentID}
	log := s.log.With().Str("exam_id", examID.String()).Int("student_id", studentID).Logger()

	existing, err := s.snaps.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read snapshot")
		}
		existing = nil
	}

	exam, err := s.loadExam(ctx, examID)
	if err == nil {
		var in *studentInputs
		in, err = s.loadStudent(ctx, exam, studentID)
		if err == nil {
			if existing != nil && s.isFresh(existing, in.hash) {
				return AnalyticsResult{Success: true, Freshness: FreshnessFresh, Snapshot: existing}
			}
			return s.computeForCaller(ctx, key, in, existing, log)
		}
	}

	if isNotFound(err) {
		return failure(KindNotFound, err)
	}
	log.Error().Err(err).Msg("Failed to load analytics inputs")
	return s.serveStale(existing, err)
}

// computeForCaller joins or starts the single compute of key. The compute
// runs detached from ctx so a caller giving up does not cancel it for others.
func (s *SnapshotService) computeForCaller(ctx context.Context, key model.SnapshotKey, in *studentInputs, existing *model.Snapshot, log zerolog.Logger) AnalyticsResult {
	ch := s.group.DoChan(flightKey(key), func() (any, error) {
		return s.computeAndPersist(context.WithoutCancel(ctx), key, in)
	})

	select {
	case <-ctx.Done():
		return s.serveStale(existing, ctx.Err())
	case r := <-ch:
		if r.Err == nil {
			snap := r.Val.(*model.Snapshot)
			if snap.InputHash != in.hash {
				// Joined a flight started from older inputs.
				return AnalyticsResult{Success: true, Freshness: FreshnessStale, Snapshot: markedStale(snap)}
			}
			return AnalyticsResult{Success: true, Freshness: FreshnessComputed, Snapshot: snap}
		}
		if ve, ok := scoring.AsValidation(r.Err); ok {
			log.Warn().Str("kind", string(ve.Kind)).Msg("Answer sheet failed validation")
			return failure(KindValidation, ve)
		}
		log.Error().Err(r.Err).Msg("Snapshot compute failed")
		return s.serveStale(existing, r.Err)
	}
}

// computeAndPersist scores, analyses and stores one snapshot.
func (s *SnapshotService) computeAndPersist(ctx context.Context, key model.SnapshotKey, in *studentInputs) (*model.Snapshot, error) {
	// A flight that finished just before this one started may already have
	// produced exactly this snapshot.
	if cur, err := s.snaps.Get(ctx, key); err == nil && s.isFresh(cur, in.hash) {
		return cur, nil
	}

	s.computations.Add(1)
	def := in.exam.def

	res, err := scoring.Score(in.sheet.Raw(), def.Key, def.Rotations, s.cfg.Policy)
	if err != nil {
		return nil, err
	}
	out := analytics.Analyze(analytics.Input{
		Result:       res,
		Populations:  in.populations(),
		Coefficients: def.Coefficients,
		Topics:       def.Topics,
		History:      in.history,
	}, s.cfg.Analytics)

	content, err := contentHash(res, out)
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{
		ExamID:      key.ExamID,
		StudentID:   key.StudentID,
		ClassID:     in.sheet.ClassID,
		HeldAt:      def.HeldAt,
		InputHash:   in.hash,
		ContentHash: content,
		ComputedAt:  s.now().UTC(),
		Result:      res,
		Analytics:   out,
	}

	written, err := s.persist(ctx, snap)
	if err != nil {
		return nil, err
	}
	if !written {
		// A newer snapshot won the race; it is the one to serve.
		if cur, err := s.snaps.Get(ctx, key); err == nil {
			snap = cur
		}
	}

	if n, err := s.jobs.SupersedePending(ctx, key); err != nil {
		s.log.Warn().Err(err).Msg("Failed to supersede pending jobs")
	} else if n > 0 {
		s.log.Debug().Int64("jobs", n).Msg("Superseded pending recompute jobs")
	}
	return snap, nil
}

// persist saves with bounded exponential backoff.
func (s *SnapshotService) persist(ctx context.Context, snap *model.Snapshot) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff

	written, err := backoff.Retry(ctx,
		func() (bool, error) {
			return s.snaps.Save(ctx, snap)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn().Err(err).Dur("retry_in", next).Msg("Snapshot save failed, retrying")
		}),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return written, nil
}

func (s *SnapshotService) isFresh(snap *model.Snapshot, hash string) bool {
	return !snap.Stale &&
		snap.InputHash == hash &&
		s.now().Sub(snap.ComputedAt) < s.cfg.TTL
}

// serveStale degrades to the last good snapshot, or reports the outage.
func (s *SnapshotService) serveStale(existing *model.Snapshot, cause error) AnalyticsResult {
	if existing != nil {
		return AnalyticsResult{Success: true, Freshness: FreshnessStale, Snapshot: markedStale(existing)}
	}
	return failure(KindUnavailable, cause)
}

// RecomputeSummary reports one sweep.
type RecomputeSummary struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RecomputeStaleSnapshots recomputes every snapshot that was invalidated,
// outlived its TTL or whose inputs changed. Unchanged snapshots are left
// untouched. A failed recompute keeps the previous snapshot and flags it stale.
func (s *SnapshotService) RecomputeStaleSnapshots(ctx context.Context) (RecomputeSummary, error) {
	var sum RecomputeSummary

	flagged, err := s.snaps.ListStale(ctx, s.now().Add(-s.cfg.TTL))
	if err != nil {
		return sum, fmt.Errorf("list stale snapshots: %w", err)
	}
	keys, err := s.snaps.ListKeys(ctx)
	if err != nil {
		return sum, fmt.Errorf("list snapshots: %w", err)
	}
	sum.Scanned = len(keys)

	isFlagged := make(map[model.SnapshotKey]bool, len(flagged))
	for _, k := range flagged {
		isFlagged[k] = true
	}

	type task struct {
		key model.SnapshotKey
		in  *studentInputs
		err error
	}
	var tasks []task
	exams := make(map[uuid.UUID]*examInputs)
	examErrs := make(map[uuid.UUID]error)

	for _, key := range keys {
		exam, ok := exams[key.ExamID]
		if !ok && examErrs[key.ExamID] == nil {
			exam, err = s.loadExam(ctx, key.ExamID)
			if err != nil {
				examErrs[key.ExamID] = err
			} else {
				exams[key.ExamID] = exam
			}
		}
		if exam == nil {
			tasks = append(tasks, task{key: key, err: examErrs[key.ExamID]})
			continue
		}

		in, err := s.loadStudent(ctx, exam, key.StudentID)
		if err != nil {
			tasks = append(tasks, task{key: key, err: err})
			continue
		}
		if !isFlagged[key] {
			cur, err := s.snaps.Get(ctx, key)
			if err == nil && cur.InputHash == in.hash {
				continue
			}
		}
		tasks = append(tasks, task{key: key, in: in})
	}

	var completed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var createErr error
	for _, t := range tasks {
		job, err := s.jobs.Create(ctx, t.key)
		if err != nil {
			createErr = fmt.Errorf("create recompute job: %w", err)
			break
		}
		sum.Processed++

		g.Go(func() error {
			if err := s.runJob(gctx, job, t.in, t.err); err != nil {
				failed.Add(1)
			} else {
				completed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Completed = int(completed.Load())
	sum.Failed = int(failed.Load())
	if createErr != nil {
		return sum, createErr
	}

	s.log.Info().
		Int("scanned", sum.Scanned).
		Int("processed", sum.Processed).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Msg("Stale snapshot sweep finished")
	return sum, nil
}

func (s *SnapshotService) runJob(ctx context.Context, job *model.RecomputeJob, in *studentInputs, loadErr error) error {
	key := model.SnapshotKey{ExamID: job.ExamID, StudentID: job.StudentID}
	log := s.log.With().Str("job_id", job.ID.String()).Str("exam_id", key.ExamID.String()).Int("student_id", key.StudentID).Logger()

	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to mark job running")
	}

	err := loadErr
	if err == nil {
		ch := s.group.DoChan(flightKey(key), func() (any, error) {
			return s.computeAndPersist(context.WithoutCancel(ctx), key, in)
		})
		r := <-ch
		err = r.Err
	}

	if err != nil {
		log.Error().Err(err).Msg("Recompute failed")
		if ferr := s.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			log.Warn().Err(ferr).Msg("Failed to mark job failed")
		}
		if serr := s.snaps.MarkStale(ctx, key); serr != nil {
			log.Warn().Err(serr).Msg("Failed to flag snapshot stale")
		}
		return err
	}

	if err := s.jobs.Complete(ctx, job.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to mark job completed")
	}
	return nil
}

// InvalidateStudent flags one snapshot for recompute.
func (s *SnapshotService) InvalidateStudent(ctx context.Context, examID uuid.UUID, studentID int) error {
	return s.snaps.MarkStale(ctx, model.SnapshotKey{ExamID: examID, StudentID: studentID})
}

// InvalidateExam flags every snapshot of an exam for recompute.
func (s *SnapshotService) InvalidateExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	n, err := s.snaps.MarkExamStale(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("invalidate exam: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int64("snapshots", n).Msg("Exam snapshots invalidated")
	return n, nil
}

func flightKey(key model.SnapshotKey) string {
	return fmt.Sprintf("%s:%d", key.ExamID, key.StudentID)
}

func markedStale(snap *model.Snapshot) *model.Snapshot {
	cp := *snap
	cp.Stale = true
	return &cp
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, errSheetMissing)
}
