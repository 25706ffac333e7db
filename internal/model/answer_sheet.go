package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// AnswerSheet is a persisted raw sheet.
type AnswerSheet struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
	ClassID   int       `json:"class_id"`
	Booklet   string    `json:"booklet"`
	Answers   string    `json:"answers"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SheetWatermark summarises the sheets of one exam. It changes whenever a
// sheet is added or its content changes.
type SheetWatermark struct {
	Count  int
	Digest string
}

// Raw returns the sheet in the form the scoring engine consumes.
func (s *AnswerSheet) Raw() scoring.RawAnswerSheet {
	return scoring.RawAnswerSheet{
		StudentID: s.StudentID,
		Booklet:   s.Booklet,
		Answers:   s.Answers,
	}
}

// SheetRequest is one sheet of an upload batch.
type SheetRequest struct {
	StudentID int    `json:"student_id" binding:"required,min=1"`
	ClassID   int    `json:"class_id" binding:"required,min=1"`
	Booklet   string `json:"booklet" binding:"required,max=8"`
	Answers   string `json:"answers" binding:"required,max=1000"`
}

// SubmitSheetsRequest is the payload for uploading scanned answer sheets.
type SubmitSheetsRequest struct {
	Sheets []SheetRequest `json:"sheets" binding:"required,min=1,max=2000,dive"`
}
