package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

func definitionRequest() *model.UpsertExamDefinitionRequest {
	req := &model.UpsertExamDefinitionRequest{
		Title:            "Tryout 1",
		ExamType:         "TKA",
		HeldAt:           time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		CanonicalBooklet: "A",
		Coefficients:     map[string]float64{"MAT": 1.5},
		BaseScore:        100,
		Rotations: map[string]model.RotationRequest{
			"B": {Order: []int{3, 2, 1, 0}, Options: map[string]string{"A": "B", "B": "A"}},
		},
		Topics: []model.TopicRequest{{Code: "algebra", Subject: "MAT"}},
	}
	for _, c := range "ABCD" {
		req.Key = append(req.Key, model.KeyItemRequest{Subject: "MAT", Topic: "algebra", Correct: string(c)})
	}
	return req
}

func newExamService(t *testing.T, rdb *redis.Client) (*ExamService, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewExamService(f.defs, f.sheets, f.svc, rdb, scoring.DefaultPolicy(), zerolog.Nop()), f
}

func TestSaveDefinition(t *testing.T) {
	svc, f := newExamService(t, nil)
	ctx := context.Background()
	id := uuid.New()

	def, err := svc.SaveDefinition(ctx, id, definitionRequest())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := def.Rotations["A"]; !ok {
		t.Error("canonical booklet should get an identity rotation")
	}
	if def.Topics[0].Weight != 1 {
		t.Errorf("topic weight = %v, want default 1", def.Topics[0].Weight)
	}
	if _, err := f.defs.GetByID(ctx, id); err != nil {
		t.Errorf("definition not stored: %v", err)
	}
}

func TestSaveDefinitionRejectsInvalid(t *testing.T) {
	svc, _ := newExamService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.UpsertExamDefinitionRequest)
		kind   scoring.ErrorKind
	}{
		{"bad option", func(r *model.UpsertExamDefinitionRequest) { r.Key[0].Correct = "Z" }, scoring.KindInvalidKey},
		{"short rotation", func(r *model.UpsertExamDefinitionRequest) {
			r.Rotations["B"] = model.RotationRequest{Order: []int{0, 1}}
		}, scoring.KindInvalidRotation},
		{"repeated index", func(r *model.UpsertExamDefinitionRequest) {
			r.Rotations["B"] = model.RotationRequest{Order: []int{0, 0, 1, 2}}
		}, scoring.KindInvalidRotation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := definitionRequest()
			tc.mutate(req)
			_, err := svc.SaveDefinition(ctx, uuid.New(), req)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err = %v, want ErrInvalidDefinition", err)
			}
			ve, ok := scoring.AsValidation(err)
			if !ok || ve.Kind != tc.kind {
				t.Errorf("validation = %+v, want %s", ve, tc.kind)
			}
		})
	}
}

func TestSubmitSheetsDirect(t *testing.T) {
	svc, f := newExamService(t, nil)
	ctx := context.Background()
	id := uuid.New()
	if _, err := svc.SaveDefinition(ctx, id, definitionRequest()); err != nil {
		t.Fatalf("save: %v", err)
	}

	sum, err := svc.SubmitSheets(ctx, id, &model.SubmitSheetsRequest{Sheets: []model.SheetRequest{
		{StudentID: 1, ClassID: 1, Booklet: "A", Answers: "ABCD"},
		{StudentID: 2, ClassID: 1, Booklet: "B", Answers: "DCAB"},
		{StudentID: 3, ClassID: 1, Booklet: "C", Answers: "ABCD"},
		{StudentID: 4, ClassID: 1, Booklet: "A", Answers: "AB"},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sum.Accepted != 2 || sum.Queued {
		t.Errorf("summary = %+v, want 2 accepted written directly", sum)
	}
	if len(sum.Rejected) != 2 ||
		sum.Rejected[0].Error.Kind != scoring.KindUnknownBooklet ||
		sum.Rejected[1].Error.Kind != scoring.KindLengthMismatch {
		t.Errorf("rejected = %+v", sum.Rejected)
	}

	r := f.svc.GetStudentAnalytics(ctx, id, 2)
	if !r.Success || r.Snapshot.Result.TotalCorrect != 4 {
		t.Errorf("rotated booklet should score 4 correct, got %+v", r)
	}
}

func TestSubmitSheetsQueued(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc, _ := newExamService(t, rdb)
	ctx := context.Background()
	id := uuid.New()
	if _, err := svc.SaveDefinition(ctx, id, definitionRequest()); err != nil {
		t.Fatalf("save: %v", err)
	}

	sum, err := svc.SubmitSheets(ctx, id, &model.SubmitSheetsRequest{Sheets: []model.SheetRequest{
		{StudentID: 1, ClassID: 1, Booklet: "A", Answers: "AB-D"},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !sum.Queued || sum.Accepted != 1 {
		t.Fatalf("summary = %+v, want queued", sum)
	}

	items, err := rdb.LRange(ctx, config.WorkerKey.PersistSheetsQueue, 0, -1).Result()
	if err != nil || len(items) != 1 {
		t.Fatalf("queue = %v, %v", items, err)
	}
	var sh model.AnswerSheet
	if err := json.Unmarshal([]byte(items[0]), &sh); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sh.ExamID != id || sh.StudentID != 1 || sh.Answers != "AB-D" {
		t.Errorf("queued sheet = %+v", sh)
	}
}
