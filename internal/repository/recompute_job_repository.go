package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// RecomputeJobRepository handles recompute job bookkeeping.
type RecomputeJobRepository struct {
	pool *pgxpool.Pool
}

// NewRecomputeJobRepository creates a new RecomputeJobRepository.
func NewRecomputeJobRepository(pool *pgxpool.Pool) *RecomputeJobRepository {
	return &RecomputeJobRepository{pool: pool}
}

// Create inserts a pending job for key.
func (r *RecomputeJobRepository) Create(ctx context.Context, key model.SnapshotKey) (*model.RecomputeJob, error) {
	j := &model.RecomputeJob{
		ID:        uuid.New(),
		ExamID:    key.ExamID,
		StudentID: key.StudentID,
		Status:    model.JobStatusPending,
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO recompute_jobs (id, exam_id, student_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		j.ID, j.ExamID, j.StudentID, j.Status,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// MarkRunning moves a job to RUNNING and counts the attempt.
func (r *RecomputeJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recompute_jobs
		 SET status = $1, attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $2`, model.JobStatusRunning, id)
	return err
}

// Complete marks a job as completed.
func (r *RecomputeJobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recompute_jobs
		 SET status = $1, last_error = NULL, updated_at = NOW()
		 WHERE id = $2`, model.JobStatusCompleted, id)
	return err
}

// Fail marks a job as failed and records why.
func (r *RecomputeJobRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recompute_jobs
		 SET status = $1, last_error = $2, updated_at = NOW()
		 WHERE id = $3`, model.JobStatusFailed, reason, id)
	return err
}

// SupersedePending retires pending jobs of key that an on-demand compute
// has already satisfied.
func (r *RecomputeJobRepository) SupersedePending(ctx context.Context, key model.SnapshotKey) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recompute_jobs
		 SET status = $1, updated_at = NOW()
		 WHERE exam_id = $2 AND student_id = $3 AND status = $4`,
		model.JobStatusSuperseded, key.ExamID, key.StudentID, model.JobStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
