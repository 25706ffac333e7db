package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

const maxMemoizedExams = 256

type populationEntry struct {
	keyHash string
	mark    model.SheetWatermark
	pop     *population
}

// populationMemo keeps the last scored population of recently used exams.
type populationMemo struct {
	mu      sync.Mutex
	limit   int
	entries map[uuid.UUID]populationEntry
}

func newPopulationMemo(limit int) *populationMemo {
	return &populationMemo{limit: limit, entries: make(map[uuid.UUID]populationEntry)}
}

func (m *populationMemo) get(examID uuid.UUID, keyHash string, mark model.SheetWatermark) (*population, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[examID]
	if !ok || e.keyHash != keyHash || e.mark != mark {
		return nil, false
	}
	return e.pop, true
}

func (m *populationMemo) put(examID uuid.UUID, keyHash string, mark model.SheetWatermark, pop *population) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[examID]; !ok && len(m.entries) >= m.limit {
		for id := range m.entries {
			delete(m.entries, id)
			break
		}
	}
	m.entries[examID] = populationEntry{keyHash: keyHash, mark: mark, pop: pop}
}

// inputVersion is bumped whenever the meaning of a snapshot changes so that
// every stored snapshot hashes differently and gets recomputed.
const inputVersion = 1

// population is the scored sheets of one exam. It is shared between
// callers and never modified after it is built.
type population struct {
	sheets    map[int]model.AnswerSheet
	examNets  []float64
	classNets map[int][]float64
}

// examInputs holds what every student of one exam shares.
type examInputs struct {
	def *model.ExamDefinition
	*population
}

// studentInputs is everything one snapshot is computed from.
type studentInputs struct {
	exam    *examInputs
	sheet   model.AnswerSheet
	history []float64
	hash    string
}

func (in *studentInputs) populations() []analytics.Population {
	return []analytics.Population{
		{Scope: analytics.ScopeClass, Values: in.exam.classNets[in.sheet.ClassID]},
		{Scope: analytics.ScopeExam, Values: in.exam.examNets},
	}
}

// loadExam reads the definition of an exam and its scored population.
// Sheets that fail validation are left out of the population. Scoring the
// population is skipped while the key and the sheet watermark are unchanged.
func (s *SnapshotService) loadExam(ctx context.Context, examID uuid.UUID) (*examInputs, error) {
	def, err := s.defs.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam definition: %w", err)
	}
	mark, err := s.sheets.Watermark(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load sheet watermark: %w", err)
	}
	keyHash, err := hashJSON(struct {
		Key       scoring.AnswerKey   `json:"key"`
		Rotations scoring.RotationMap `json:"rotations"`
	}{def.Key, def.Rotations})
	if err != nil {
		return nil, err
	}

	if pop, ok := s.populations.get(examID, keyHash, mark); ok {
		return &examInputs{def: def, population: pop}, nil
	}

	sheets, err := s.sheets.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load answer sheets: %w", err)
	}

	pop := &population{
		sheets:    make(map[int]model.AnswerSheet, len(sheets)),
		classNets: make(map[int][]float64),
	}
	for _, sh := range sheets {
		pop.sheets[sh.StudentID] = sh
		res, err := scoring.Score(sh.Raw(), def.Key, def.Rotations, s.cfg.Policy)
		if err != nil {
			continue
		}
		pop.examNets = append(pop.examNets, res.TotalNet)
		pop.classNets[sh.ClassID] = append(pop.classNets[sh.ClassID], res.TotalNet)
	}

	sort.Float64s(pop.examNets)
	for _, nets := range pop.classNets {
		sort.Float64s(nets)
	}
	s.populations.put(examID, keyHash, mark, pop)
	return &examInputs{def: def, population: pop}, nil
}

// loadStudent completes the inputs of one student and computes their hash.
func (s *SnapshotService) loadStudent(ctx context.Context, exam *examInputs, studentID int) (*studentInputs, error) {
	sheet, ok := exam.sheets[studentID]
	if !ok {
		return nil, fmt.Errorf("answer sheet of student %d: %w", studentID, errSheetMissing)
	}
	history, err := s.snaps.History(ctx, studentID, exam.def.HeldAt)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	in := &studentInputs{exam: exam, sheet: sheet, history: history}
	in.hash, err = s.inputHash(in)
	if err != nil {
		return nil, err
	}
	return in, nil
}

type hashedInputs struct {
	Version         int                        `json:"version"`
	ExamID          uuid.UUID                  `json:"exam_id"`
	ExamType        string                     `json:"exam_type"`
	HeldAt          string                     `json:"held_at"`
	Key             scoring.AnswerKey          `json:"key"`
	Rotations       scoring.RotationMap        `json:"rotations"`
	Coefficients    analytics.CoefficientTable `json:"coefficients"`
	Topics          []analytics.Topic          `json:"topics"`
	StudentID       int                        `json:"student_id"`
	ClassID         int                        `json:"class_id"`
	Booklet         string                     `json:"booklet"`
	Answers         string                     `json:"answers"`
	ExamPopulation  []float64                  `json:"exam_population"`
	ClassPopulation []float64                  `json:"class_population"`
	History         []float64                  `json:"history"`
	Policy          scoring.Policy             `json:"policy"`
	Analytics       analytics.Config           `json:"analytics"`
}

func (s *SnapshotService) inputHash(in *studentInputs) (string, error) {
	def := in.exam.def
	return hashJSON(hashedInputs{
		Version:         inputVersion,
		ExamID:          def.ID,
		ExamType:        def.ExamType,
		HeldAt:          def.HeldAt.UTC().Format(time.RFC3339Nano),
		Key:             def.Key,
		Rotations:       def.Rotations,
		Coefficients:    def.Coefficients,
		Topics:          def.Topics,
		StudentID:       in.sheet.StudentID,
		ClassID:         in.sheet.ClassID,
		Booklet:         in.sheet.Booklet,
		Answers:         in.sheet.Answers,
		ExamPopulation:  in.exam.examNets,
		ClassPopulation: in.exam.classNets[in.sheet.ClassID],
		History:         in.history,
		Policy:          s.cfg.Policy,
		Analytics:       s.cfg.Analytics,
	})
}

// contentHash addresses the computed output. Identical inputs always give
// identical content and therefore the same hash.
func contentHash(res scoring.ScoredResult, out analytics.Output) (string, error) {
	return hashJSON(struct {
		Result    scoring.ScoredResult `json:"result"`
		Analytics analytics.Output     `json:"analytics"`
	}{res, out})
}

// hashJSON is sha256 over the JSON encoding; map keys are emitted sorted.
func hashJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode hash input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
