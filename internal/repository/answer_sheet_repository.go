package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// AnswerSheetRepository handles raw answer sheet data access.
type AnswerSheetRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerSheetRepository creates a new AnswerSheetRepository.
func NewAnswerSheetRepository(pool *pgxpool.Pool) *AnswerSheetRepository {
	return &AnswerSheetRepository{pool: pool}
}

// Get retrieves one student's sheet for an exam.
func (r *AnswerSheetRepository) Get(ctx context.Context, examID uuid.UUID, studentID int) (*model.AnswerSheet, error) {
	s := &model.AnswerSheet{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, student_id, class_id, booklet, answers, updated_at
		 FROM answer_sheets
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ExamID, &s.StudentID, &s.ClassID, &s.Booklet, &s.Answers, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListByExam retrieves every sheet of an exam ordered by student.
func (r *AnswerSheetRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AnswerSheet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, student_id, class_id, booklet, answers, updated_at
		 FROM answer_sheets
		 WHERE exam_id = $1
		 ORDER BY student_id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []model.AnswerSheet
	for rows.Next() {
		var s model.AnswerSheet
		if err := rows.Scan(&s.ExamID, &s.StudentID, &s.ClassID, &s.Booklet, &s.Answers, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sheets = append(sheets, s)
	}
	return sheets, rows.Err()
}

// Watermark digests the sheets of an exam inside the database.
func (r *AnswerSheetRepository) Watermark(ctx context.Context, examID uuid.UUID) (model.SheetWatermark, error) {
	var w model.SheetWatermark
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(md5(string_agg(student_id || ':' || class_id || ':' || booklet || ':' || answers, '|' ORDER BY student_id)), '')
		 FROM answer_sheets
		 WHERE exam_id = $1`, examID,
	).Scan(&w.Count, &w.Digest)
	return w, err
}

// Upsert inserts or replaces one sheet.
func (r *AnswerSheetRepository) Upsert(ctx context.Context, s *model.AnswerSheet) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_sheets (exam_id, student_id, class_id, booklet, answers)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET class_id = EXCLUDED.class_id,
		     booklet = EXCLUDED.booklet,
		     answers = EXCLUDED.answers,
		     updated_at = NOW()`,
		s.ExamID, s.StudentID, s.ClassID, s.Booklet, s.Answers)
	return err
}

// UpsertBatch inserts or replaces many sheets in one statement using UNNEST.
// Later entries for the same (exam, student) win.
func (r *AnswerSheetRepository) UpsertBatch(ctx context.Context, sheets []model.AnswerSheet) error {
	if len(sheets) == 0 {
		return nil
	}

	// ON CONFLICT cannot touch the same row twice in one statement.
	latest := make(map[model.SnapshotKey]int, len(sheets))
	for i, s := range sheets {
		latest[model.SnapshotKey{ExamID: s.ExamID, StudentID: s.StudentID}] = i
	}

	n := len(latest)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	classes := make([]int, 0, n)
	booklets := make([]string, 0, n)
	answers := make([]string, 0, n)
	for i, s := range sheets {
		if latest[model.SnapshotKey{ExamID: s.ExamID, StudentID: s.StudentID}] != i {
			continue
		}
		examIDs = append(examIDs, s.ExamID)
		students = append(students, s.StudentID)
		classes = append(classes, s.ClassID)
		booklets = append(booklets, s.Booklet)
		answers = append(answers, s.Answers)
	}

	query := `
		INSERT INTO answer_sheets (exam_id, student_id, class_id, booklet, answers)
		SELECT u.exam_id, u.student_id, u.class_id, u.booklet, u.answers
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::int[],
			$4::text[],
			$5::text[]
		) AS u (exam_id, student_id, class_id, booklet, answers)
		ON CONFLICT (exam_id, student_id) DO UPDATE
		SET class_id = EXCLUDED.class_id,
		    booklet = EXCLUDED.booklet,
		    answers = EXCLUDED.answers,
		    updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, examIDs, students, classes, booklets, answers)
	return err
}
