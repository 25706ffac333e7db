package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// ExamDefinitionRepository handles answer keys, rotations, coefficients and topics.
type ExamDefinitionRepository struct {
	pool *pgxpool.Pool
}

// NewExamDefinitionRepository creates a new ExamDefinitionRepository.
func NewExamDefinitionRepository(pool *pgxpool.Pool) *ExamDefinitionRepository {
	return &ExamDefinitionRepository{pool: pool}
}

// GetByID retrieves an exam definition by its UUID.
func (r *ExamDefinitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d := &model.ExamDefinition{}
	var key, rotations, coefficients, topics []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, exam_type, held_at, answer_key, rotations, coefficients, topics,
		        created_at, updated_at
		 FROM exam_definitions WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.ExamType, &d.HeldAt, &key, &rotations, &coefficients, &topics,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	if err := json.Unmarshal(key, &d.Key); err != nil {
		return nil, fmt.Errorf("decode answer key: %w", err)
	}
	if err := json.Unmarshal(rotations, &d.Rotations); err != nil {
		return nil, fmt.Errorf("decode rotations: %w", err)
	}
	if err := json.Unmarshal(coefficients, &d.Coefficients); err != nil {
		return nil, fmt.Errorf("decode coefficients: %w", err)
	}
	if err := json.Unmarshal(topics, &d.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return d, nil
}

// Upsert creates or replaces an exam definition.
func (r *ExamDefinitionRepository) Upsert(ctx context.Context, d *model.ExamDefinition) error {
	key, err := json.Marshal(d.Key)
	if err != nil {
		return err
	}
	rotations, err := json.Marshal(d.Rotations)
	if err != nil {
		return err
	}
	coefficients, err := json.Marshal(d.Coefficients)
	if err != nil {
		return err
	}
	topics, err := json.Marshal(d.Topics)
	if err != nil {
		return err
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_definitions (id, title, exam_type, held_at, answer_key, rotations, coefficients, topics)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     exam_type = EXCLUDED.exam_type,
		     held_at = EXCLUDED.held_at,
		     answer_key = EXCLUDED.answer_key,
		     rotations = EXCLUDED.rotations,
		     coefficients = EXCLUDED.coefficients,
		     topics = EXCLUDED.topics,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		d.ID, d.Title, d.ExamType, d.HeldAt, key, rotations, coefficients, topics,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}
