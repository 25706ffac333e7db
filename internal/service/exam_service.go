package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// Domain Errors
var (
	ErrInvalidDefinition = errors.New("exam definition is invalid")
)

// RejectedSheet is an uploaded sheet that failed validation.
type RejectedSheet struct {
	StudentID int                      `json:"student_id"`
	Error     *scoring.ValidationError `json:"error"`
}

// SubmitSummary reports a sheet upload.
type SubmitSummary struct {
	Accepted int             `json:"accepted"`
	Queued   bool            `json:"queued"`
	Rejected []RejectedSheet `json:"rejected"`
}

// ExamService manages exam definitions and sheet intake. Accepted sheets go
// through the Redis queue to the sheet worker when Redis is configured, and
// straight to the store otherwise.
type ExamService struct {
	defs      DefinitionStore
	sheets    SheetStore
	snapshots *SnapshotService
	rdb       *redis.Client
	policy    scoring.Policy
	log       zerolog.Logger
}

// NewExamService creates a new ExamService. rdb may be nil.
func NewExamService(
	defs DefinitionStore,
	sheets SheetStore,
	snapshots *SnapshotService,
	rdb *redis.Client,
	policy scoring.Policy,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		defs:      defs,
		sheets:    sheets,
		snapshots: snapshots,
		rdb:       rdb,
		policy:    policy,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition retrieves an exam definition by its UUID.
func (s *ExamService) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	return s.defs.GetByID(ctx, id)
}

// SaveDefinition validates and stores a definition, then flags every
// snapshot of the exam for recompute.
func (s *ExamService) SaveDefinition(ctx context.Context, id uuid.UUID, req *model.UpsertExamDefinitionRequest) (*model.ExamDefinition, error) {
	def := req.ToDefinition(id)

	if err := s.validateDefinition(def); err != nil {
		return nil, err
	}
	if err := s.defs.Upsert(ctx, def); err != nil {
		return nil, fmt.Errorf("save definition: %w", err)
	}

	if _, err := s.snapshots.InvalidateExam(ctx, id); err != nil {
		s.log.Error().Err(err).Str("exam_id", id.String()).Msg("Failed to invalidate snapshots after definition change")
	}
	return def, nil
}

func (s *ExamService) validateDefinition(def *model.ExamDefinition) error {
	if err := scoring.ValidateKey(def.Key, s.policy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	variants := make([]string, 0, len(def.Rotations))
	for v := range def.Rotations {
		variants = append(variants, v)
	}
	sort.Strings(variants)
	for _, v := range variants {
		if err := def.Rotations[v].Validate(def.Key.Len(), s.policy.Options); err != nil {
			if ve, ok := scoring.AsValidation(err); ok {
				ve.Booklet = v
			}
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	}

	codes := make(map[string]bool, len(def.Topics))
	for _, t := range def.Topics {
		if codes[t.Code] {
			return fmt.Errorf("%w: topic %q listed twice", ErrInvalidDefinition, t.Code)
		}
		codes[t.Code] = true
	}
	return nil
}

// SubmitSheets validates each sheet by scoring it against the definition and
// hands the valid ones to storage. Invalid sheets are reported, not stored.
func (s *ExamService) SubmitSheets(ctx context.Context, examID uuid.UUID, req *model.SubmitSheetsRequest) (*SubmitSummary, error) {
	def, err := s.defs.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	sum := &SubmitSummary{Rejected: []RejectedSheet{}}
	accepted := make([]model.AnswerSheet, 0, len(req.Sheets))
	for _, sr := range req.Sheets {
		sheet := model.AnswerSheet{
			ExamID:    examID,
			StudentID: sr.StudentID,
			ClassID:   sr.ClassID,
			Booklet:   sr.Booklet,
			Answers:   sr.Answers,
		}
		if _, err := scoring.Score(sheet.Raw(), def.Key, def.Rotations, s.policy); err != nil {
			ve, ok := scoring.AsValidation(err)
			if !ok {
				return nil, err
			}
			sum.Rejected = append(sum.Rejected, RejectedSheet{StudentID: sr.StudentID, Error: ve})
			continue
		}
		accepted = append(accepted, sheet)
	}
	sum.Accepted = len(accepted)
	if len(accepted) == 0 {
		return sum, nil
	}

	if s.rdb != nil {
		err := s.enqueue(ctx, accepted)
		if err == nil {
			sum.Queued = true
			return sum, nil
		}
		s.log.Warn().Err(err).Msg("Sheet queue unavailable, writing directly")
	}

	if err := s.sheets.UpsertBatch(ctx, accepted); err != nil {
		return nil, fmt.Errorf("store sheets: %w", err)
	}
	for _, sh := range accepted {
		if err := s.snapshots.InvalidateStudent(ctx, sh.ExamID, sh.StudentID); err != nil {
			s.log.Warn().Err(err).Int("student_id", sh.StudentID).Msg("Failed to invalidate snapshot")
		}
	}
	return sum, nil
}

func (s *ExamService) enqueue(ctx context.Context, sheets []model.AnswerSheet) error {
	values := make([]any, 0, len(sheets))
	for _, sh := range sheets {
		raw, err := json.Marshal(sh)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistSheetsQueue, values...).Err()
}
