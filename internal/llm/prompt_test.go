package llm

import (
	"strings"
	"testing"

	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

func promptSnapshot(low bool) *model.Snapshot {
	pct := 82.4
	return &model.Snapshot{
		Result: scoring.ScoredResult{
			Questions:    30,
			TotalCorrect: 20,
			TotalWrong:   9,
			TotalBlank:   1,
			TotalNet:     17,
			Subjects: []scoring.SubjectScore{
				{Subject: "MAT", Correct: 20, Wrong: 9, Blank: 1, Net: 17},
			},
		},
		Analytics: analytics.Output{
			Normalized: []analytics.NormalizedScore{
				{Scope: analytics.ScopeClass, Status: analytics.NormOK, SampleSize: 32, Percentile: &pct},
				{Scope: analytics.ScopeCohort, Status: analytics.NormInsufficientSample, SampleSize: 2},
			},
			Composite:  analytics.Composite{ExamType: "TYT", Score: 117},
			Confidence: analytics.Confidence{Level: "low", Score: 0.3, Low: low},
			TopicReport: analytics.TopicReport{
				Gaps: []analytics.Gap{
					{Topic: "algebra", Subject: "MAT", Mastery: 0.4, RootCause: true},
					{Topic: "functions", Subject: "MAT", Mastery: 0.3, BlockedBy: []string{"algebra"}},
				},
				Strengths: []string{"geometry"},
			},
		},
	}
}

func TestBuildUserPrompt(t *testing.T) {
	got := BuildUserPrompt(promptSnapshot(true))

	want := []string{
		"EXAM TYPE: TYT",
		"COMPOSITE SCORE: 117.00",
		"TOTAL NET: 17.00 of 30 questions (correct 20, wrong 9, blank 1)",
		"- MAT: net 17.00",
		"RANK IN CLASS: percentile 82 of 32 students",
		"RANK IN COHORT: not enough students to compare",
		"- algebra (MAT): mastery 40%, root cause",
		"- functions (MAT): mastery 30%, blocked by algebra",
		"STRENGTHS: geometry",
		"not very reliable",
	}
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("prompt missing %q\n%s", w, got)
		}
	}
}

func TestBuildUserPromptReliableResult(t *testing.T) {
	got := BuildUserPrompt(promptSnapshot(false))

	for _, unwanted := range []string{"STUDENT:", "GOAL:", "not very reliable"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("prompt should not contain %q", unwanted)
		}
	}
}
