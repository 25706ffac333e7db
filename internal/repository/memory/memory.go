// Package memory provides in-process implementations of the repository
// stores. They back tests and single-node development runs.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/repository"
)

// ExamDefinitions stores exam definitions.
type ExamDefinitions struct {
	mu   sync.RWMutex
	defs map[uuid.UUID]model.ExamDefinition
}

func NewExamDefinitions() *ExamDefinitions {
	return &ExamDefinitions{defs: make(map[uuid.UUID]model.ExamDefinition)}
}

func (s *ExamDefinitions) GetByID(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (s *ExamDefinitions) Upsert(_ context.Context, d *model.ExamDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if prev, ok := s.defs[d.ID]; ok {
		d.CreatedAt = prev.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.defs[d.ID] = *d
	return nil
}

// AnswerSheets stores raw sheets keyed by (exam, student).
type AnswerSheets struct {
	mu     sync.RWMutex
	sheets map[model.SnapshotKey]model.AnswerSheet
}

func NewAnswerSheets() *AnswerSheets {
	return &AnswerSheets{sheets: make(map[model.SnapshotKey]model.AnswerSheet)}
}

func (s *AnswerSheets) Get(_ context.Context, examID uuid.UUID, studentID int) (*model.AnswerSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.sheets[model.SnapshotKey{ExamID: examID, StudentID: studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sh, nil
}

func (s *AnswerSheets) ListByExam(_ context.Context, examID uuid.UUID) ([]model.AnswerSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AnswerSheet
	for k, sh := range s.sheets {
		if k.ExamID == examID {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *AnswerSheets) Watermark(ctx context.Context, examID uuid.UUID) (model.SheetWatermark, error) {
	sheets, _ := s.ListByExam(ctx, examID)
	h := sha256.New()
	for _, sh := range sheets {
		fmt.Fprintf(h, "%d:%d:%s:%s|", sh.StudentID, sh.ClassID, sh.Booklet, sh.Answers)
	}
	return model.SheetWatermark{Count: len(sheets), Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *AnswerSheets) Upsert(_ context.Context, sh *model.AnswerSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh.UpdatedAt = time.Now()
	s.sheets[model.SnapshotKey{ExamID: sh.ExamID, StudentID: sh.StudentID}] = *sh
	return nil
}

func (s *AnswerSheets) UpsertBatch(ctx context.Context, sheets []model.AnswerSheet) error {
	for i := range sheets {
		if err := s.Upsert(ctx, &sheets[i]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshots stores analytics snapshots with the same optimistic write rule
// as the PostgreSQL store.
type Snapshots struct {
	mu    sync.RWMutex
	snaps map[model.SnapshotKey]model.Snapshot
}

func NewSnapshots() *Snapshots {
	return &Snapshots{snaps: make(map[model.SnapshotKey]model.Snapshot)}
}

func (s *Snapshots) Get(_ context.Context, key model.SnapshotKey) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snaps[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sn, nil
}

func (s *Snapshots) Save(_ context.Context, sn *model.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sn.Key()
	if prev, ok := s.snaps[key]; ok && !prev.ComputedAt.Before(sn.ComputedAt) {
		return false, nil
	}
	cp := *sn
	cp.Stale = false
	s.snaps[key] = cp
	return true, nil
}

func (s *Snapshots) MarkStale(_ context.Context, key model.SnapshotKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sn, ok := s.snaps[key]; ok {
		sn.Stale = true
		s.snaps[key] = sn
	}
	return nil
}

func (s *Snapshots) MarkExamStale(_ context.Context, examID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, sn := range s.snaps {
		if k.ExamID == examID {
			sn.Stale = true
			s.snaps[k] = sn
			n++
		}
	}
	return n, nil
}

func (s *Snapshots) ListStale(_ context.Context, cutoff time.Time) ([]model.SnapshotKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []model.SnapshotKey
	for k, sn := range s.snaps {
		if sn.Stale || sn.ComputedAt.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys, nil
}

func (s *Snapshots) ListKeys(_ context.Context) ([]model.SnapshotKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.SnapshotKey, 0, len(s.snaps))
	for k := range s.snaps {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func (s *Snapshots) History(_ context.Context, studentID int, before time.Time) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var prior []model.Snapshot
	for _, sn := range s.snaps {
		if sn.StudentID == studentID && sn.HeldAt.Before(before) {
			prior = append(prior, sn)
		}
	}
	sort.Slice(prior, func(i, j int) bool {
		if !prior[i].HeldAt.Equal(prior[j].HeldAt) {
			return prior[i].HeldAt.Before(prior[j].HeldAt)
		}
		return prior[i].ExamID.String() < prior[j].ExamID.String()
	})
	out := make([]float64, 0, len(prior))
	for _, sn := range prior {
		out = append(out, sn.Analytics.Composite.Score)
	}
	return out, nil
}

func sortKeys(keys []model.SnapshotKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ExamID != keys[j].ExamID {
			return keys[i].ExamID.String() < keys[j].ExamID.String()
		}
		return keys[i].StudentID < keys[j].StudentID
	})
}

// RecomputeJobs stores recompute jobs.
type RecomputeJobs struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]model.RecomputeJob
}

func NewRecomputeJobs() *RecomputeJobs {
	return &RecomputeJobs{jobs: make(map[uuid.UUID]model.RecomputeJob)}
}

func (s *RecomputeJobs) Create(_ context.Context, key model.SnapshotKey) (*model.RecomputeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	j := model.RecomputeJob{
		ID:        uuid.New(),
		ExamID:    key.ExamID,
		StudentID: key.StudentID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	return &j, nil
}

func (s *RecomputeJobs) MarkRunning(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(j *model.RecomputeJob) {
		j.Status = model.JobStatusRunning
		j.Attempts++
	})
}

func (s *RecomputeJobs) Complete(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(j *model.RecomputeJob) {
		j.Status = model.JobStatusCompleted
		j.LastError = ""
	})
}

func (s *RecomputeJobs) Fail(_ context.Context, id uuid.UUID, reason string) error {
	return s.update(id, func(j *model.RecomputeJob) {
		j.Status = model.JobStatusFailed
		j.LastError = reason
	})
}

func (s *RecomputeJobs) SupersedePending(_ context.Context, key model.SnapshotKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.ExamID == key.ExamID && j.StudentID == key.StudentID && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusSuperseded
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

// List returns every job, oldest first.
func (s *RecomputeJobs) List() []model.RecomputeJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RecomputeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *RecomputeJobs) update(id uuid.UUID, fn func(*model.RecomputeJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&j)
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}
