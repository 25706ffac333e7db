package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// SnapshotKey identifies one student's analytics for one exam.
type SnapshotKey struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
}

// Snapshot is the persisted analytics of one student on one exam. Only the
// snapshot service creates or replaces it.
type Snapshot struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
	ClassID   int       `json:"class_id"`
	// HeldAt is copied from the exam so history can be ordered without a join.
	HeldAt time.Time `json:"held_at"`
	// InputHash addresses every input the computation read.
	InputHash string `json:"input_hash"`
	// ContentHash addresses the computed output; commentary is keyed on it.
	ContentHash string               `json:"content_hash"`
	ComputedAt  time.Time            `json:"computed_at"`
	Result      scoring.ScoredResult `json:"result"`
	Analytics   analytics.Output     `json:"analytics"`
	Stale       bool                 `json:"stale"`
}

// Key returns the snapshot's key.
func (s *Snapshot) Key() SnapshotKey {
	return SnapshotKey{ExamID: s.ExamID, StudentID: s.StudentID}
}
