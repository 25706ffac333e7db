package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// ExamDefinition is everything needed to score and analyse one exam.
type ExamDefinition struct {
	ID           uuid.UUID                  `json:"id"`
	Title        string                     `json:"title"`
	ExamType     string                     `json:"exam_type"`
	HeldAt       time.Time                  `json:"held_at"`
	Key          scoring.AnswerKey          `json:"key"`
	Rotations    scoring.RotationMap        `json:"rotations"`
	Coefficients analytics.CoefficientTable `json:"coefficients"`
	Topics       []analytics.Topic          `json:"topics"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// KeyItemRequest is one canonical question of an uploaded key.
type KeyItemRequest struct {
	Subject string `json:"subject" binding:"required,max=32"`
	Topic   string `json:"topic" binding:"omitempty,max=64"`
	Correct string `json:"correct" binding:"required,len=1"`
}

// RotationRequest describes how one booklet variant is printed.
type RotationRequest struct {
	Order   []int             `json:"order" binding:"required"`
	Options map[string]string `json:"options" binding:"omitempty"`
}

// TopicRequest is catalogue metadata for one topic.
type TopicRequest struct {
	Code          string   `json:"code" binding:"required,max=64"`
	Subject       string   `json:"subject" binding:"required,max=32"`
	Weight        float64  `json:"weight" binding:"omitempty,gt=0"`
	Prerequisites []string `json:"prerequisites" binding:"omitempty"`
}

// UpsertExamDefinitionRequest is the payload for creating or replacing an exam definition.
type UpsertExamDefinitionRequest struct {
	Title            string                     `json:"title" binding:"required,min=3,max=255"`
	ExamType         string                     `json:"exam_type" binding:"required,max=32"`
	HeldAt           time.Time                  `json:"held_at" binding:"required"`
	CanonicalBooklet string                     `json:"canonical_booklet" binding:"required,max=8"`
	Key              []KeyItemRequest           `json:"key" binding:"required,min=1,dive"`
	Rotations        map[string]RotationRequest `json:"rotations" binding:"omitempty"`
	Coefficients     map[string]float64         `json:"coefficients" binding:"required"`
	BaseScore        float64                    `json:"base_score" binding:"omitempty,gte=0"`
	Topics           []TopicRequest             `json:"topics" binding:"omitempty,dive"`
}

// ToDefinition converts the request into a definition. The canonical booklet
// always gets an identity rotation.
func (r *UpsertExamDefinitionRequest) ToDefinition(id uuid.UUID) *ExamDefinition {
	def := &ExamDefinition{
		ID:       id,
		Title:    r.Title,
		ExamType: r.ExamType,
		HeldAt:   r.HeldAt,
		Key:      scoring.AnswerKey{Variant: r.CanonicalBooklet},
		Coefficients: analytics.CoefficientTable{
			ExamType: r.ExamType,
			Base:     r.BaseScore,
			Subjects: r.Coefficients,
		},
	}

	for i, it := range r.Key {
		def.Key.Items = append(def.Key.Items, scoring.KeyItem{
			Index:   i,
			Subject: it.Subject,
			Topic:   it.Topic,
			Correct: it.Correct,
		})
	}

	def.Rotations = scoring.RotationMap{r.CanonicalBooklet: scoring.Identity(len(r.Key))}
	for variant, rot := range r.Rotations {
		def.Rotations[variant] = scoring.Rotation{Order: rot.Order, Options: rot.Options}
	}

	for _, t := range r.Topics {
		w := t.Weight
		if w == 0 {
			w = 1
		}
		def.Topics = append(def.Topics, analytics.Topic{
			Code:          t.Code,
			Subject:       t.Subject,
			Weight:        w,
			Prerequisites: t.Prerequisites,
		})
	}
	return def
}
