package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the states of a recompute job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	// JobStatusSuperseded marks a job made redundant by an on-demand compute.
	JobStatusSuperseded JobStatus = "SUPERSEDED"
)

// RecomputeJob tracks one background recompute of a snapshot.
type RecomputeJob struct {
	ID        uuid.UUID `json:"id"`
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
