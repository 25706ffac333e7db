package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// SnapshotRepository handles analytics snapshot data access.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Get retrieves the snapshot of one student on one exam.
func (r *SnapshotRepository) Get(ctx context.Context, key model.SnapshotKey) (*model.Snapshot, error) {
	s := &model.Snapshot{}
	var result, analytics []byte
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, student_id, class_id, held_at, input_hash, content_hash,
		        computed_at, result, analytics, stale
		 FROM analytics_snapshots
		 WHERE exam_id = $1 AND student_id = $2`, key.ExamID, key.StudentID,
	).Scan(&s.ExamID, &s.StudentID, &s.ClassID, &s.HeldAt, &s.InputHash, &s.ContentHash,
		&s.ComputedAt, &result, &analytics, &s.Stale)
	if err != nil {
		return nil, notFound(err)
	}

	if err := json.Unmarshal(result, &s.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if err := json.Unmarshal(analytics, &s.Analytics); err != nil {
		return nil, fmt.Errorf("decode analytics: %w", err)
	}
	return s, nil
}

// Save writes a snapshot unless the stored one was computed at the same time
// or later. It reports whether the row was written.
func (r *SnapshotRepository) Save(ctx context.Context, s *model.Snapshot) (bool, error) {
	result, err := json.Marshal(s.Result)
	if err != nil {
		return false, err
	}
	analytics, err := json.Marshal(s.Analytics)
	if err != nil {
		return false, err
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO analytics_snapshots
		     (exam_id, student_id, class_id, held_at, input_hash, content_hash,
		      computed_at, result, analytics, stale)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET class_id = EXCLUDED.class_id,
		     held_at = EXCLUDED.held_at,
		     input_hash = EXCLUDED.input_hash,
		     content_hash = EXCLUDED.content_hash,
		     computed_at = EXCLUDED.computed_at,
		     result = EXCLUDED.result,
		     analytics = EXCLUDED.analytics,
		     stale = FALSE
		 WHERE analytics_snapshots.computed_at < EXCLUDED.computed_at`,
		s.ExamID, s.StudentID, s.ClassID, s.HeldAt, s.InputHash, s.ContentHash,
		s.ComputedAt, result, analytics,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStale flags one snapshot for recompute.
func (r *SnapshotRepository) MarkStale(ctx context.Context, key model.SnapshotKey) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE analytics_snapshots SET stale = TRUE
		 WHERE exam_id = $1 AND student_id = $2`, key.ExamID, key.StudentID)
	return err
}

// MarkExamStale flags every snapshot of an exam and returns how many were flagged.
func (r *SnapshotRepository) MarkExamStale(ctx context.Context, examID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE analytics_snapshots SET stale = TRUE WHERE exam_id = $1`, examID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListStale returns keys that were invalidated or computed before cutoff.
func (r *SnapshotRepository) ListStale(ctx context.Context, cutoff time.Time) ([]model.SnapshotKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, student_id
		 FROM analytics_snapshots
		 WHERE stale OR computed_at < $1
		 ORDER BY exam_id, student_id`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	return collectKeys(rows)
}

// ListKeys returns the key of every stored snapshot.
func (r *SnapshotRepository) ListKeys(ctx context.Context) ([]model.SnapshotKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, student_id
		 FROM analytics_snapshots
		 ORDER BY exam_id, student_id`,
	)
	if err != nil {
		return nil, err
	}
	return collectKeys(rows)
}

// History returns a student's composite scores on exams held before the given
// time, oldest first.
func (r *SnapshotRepository) History(ctx context.Context, studentID int, before time.Time) ([]float64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT (analytics->'composite'->>'score')::float8
		 FROM analytics_snapshots
		 WHERE student_id = $1 AND held_at < $2
		 ORDER BY held_at, exam_id`, studentID, before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		scores = append(scores, v)
	}
	return scores, rows.Err()
}

func collectKeys(rows pgx.Rows) ([]model.SnapshotKey, error) {
	defer rows.Close()

	var keys []model.SnapshotKey
	for rows.Next() {
		var k model.SnapshotKey
		if err := rows.Scan(&k.ExamID, &k.StudentID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
