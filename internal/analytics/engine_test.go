package analytics

import (
	"reflect"
	"testing"

	"github.com/stemsi/exstem-analytics/internal/scoring"
)

func tally(code, subject string, questions, correct int) scoring.TopicTally {
	return scoring.TopicTally{
		Topic:     code,
		Subject:   subject,
		Questions: questions,
		Correct:   correct,
		Wrong:     questions - correct,
	}
}

func TestNormalizeInsufficientSample(t *testing.T) {
	got := Normalize(17, Population{Scope: ScopeClass, Values: []float64{17, 12}}, 5)
	if got.Status != NormInsufficientSample {
		t.Fatalf("status = %s, want %s", got.Status, NormInsufficientSample)
	}
	if got.ZScore != nil || got.MinMax != nil || got.Percentile != nil {
		t.Errorf("expected no statistics, got %+v", got)
	}
	if got.SampleSize != 2 {
		t.Errorf("sample size = %d, want 2", got.SampleSize)
	}
}

func TestNormalize(t *testing.T) {
	pop := Population{Scope: ScopeExam, Values: []float64{10, 20, 30, 40, 50}}

	tests := []struct {
		name    string
		value   float64
		wantZ   float64
		wantMM  float64
		wantPct float64
	}{
		{"mean", 30, 0, 0.5, 50},
		{"top", 50, 1.4142, 1, 90},
		{"bottom", 10, -1.4142, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.value, pop, 5)
			if got.Status != NormOK {
				t.Fatalf("status = %s", got.Status)
			}
			if *got.ZScore != tt.wantZ {
				t.Errorf("z = %v, want %v", *got.ZScore, tt.wantZ)
			}
			if *got.MinMax != tt.wantMM {
				t.Errorf("min-max = %v, want %v", *got.MinMax, tt.wantMM)
			}
			if *got.Percentile != tt.wantPct {
				t.Errorf("percentile = %v, want %v", *got.Percentile, tt.wantPct)
			}
		})
	}
}

func TestNormalizeFlatPopulation(t *testing.T) {
	got := Normalize(12, Population{Scope: ScopeClass, Values: []float64{12, 12, 12, 12, 12}}, 5)
	if got.Status != NormOK {
		t.Fatalf("status = %s", got.Status)
	}
	if *got.ZScore != 0 || *got.MinMax != 0.5 {
		t.Errorf("flat population: z=%v mm=%v, want 0 and 0.5", *got.ZScore, *got.MinMax)
	}
}

func TestWeight(t *testing.T) {
	res := scoring.ScoredResult{Subjects: []scoring.SubjectScore{
		{Subject: "TUR", Net: 30},
		{Subject: "MAT", Net: 20},
		{Subject: "ART", Net: 5},
	}}
	tyt := CoefficientTable{ExamType: "TYT", Base: 100, Subjects: map[string]float64{"TUR": 3.3, "MAT": 3.3}}
	ayt := CoefficientTable{ExamType: "AYT", Base: 100, Subjects: map[string]float64{"TUR": 1, "MAT": 3}}

	if got := Weight(res, tyt); got.Score != 265 {
		t.Errorf("TYT score = %v, want 265", got.Score)
	}
	got := Weight(res, ayt)
	if got.Score != 190 {
		t.Errorf("AYT score = %v, want 190", got.Score)
	}
	if !reflect.DeepEqual(got.Unweighted, []string{"ART"}) {
		t.Errorf("unweighted = %v, want [ART]", got.Unweighted)
	}
}

func TestAssessConfidence(t *testing.T) {
	cfg := DefaultConfig()

	high := AssessConfidence(40, 60, []float64{300, 300, 300}, cfg)
	if high.Score != 1 || high.Level != ConfidenceHigh || high.Low {
		t.Errorf("high = %+v", high)
	}

	low := AssessConfidence(2, 3, nil, cfg)
	if !low.Low || low.Level != ConfidenceLow {
		t.Errorf("expected low confidence, got %+v", low)
	}
	if low.StabilityFactor != 0.5 {
		t.Errorf("stability without history = %v, want 0.5", low.StabilityFactor)
	}

	steady := AssessConfidence(20, 30, []float64{100, 100}, cfg)
	noisy := AssessConfidence(20, 30, []float64{20, 180}, cfg)
	if noisy.Score >= steady.Score {
		t.Errorf("noisy history %v should score below steady %v", noisy.Score, steady.Score)
	}
}

func TestAnalyzeTopicsGapOrder(t *testing.T) {
	catalogue := []Topic{
		{Code: "fractions", Subject: "MAT", Weight: 1},
		{Code: "ratios", Subject: "MAT", Weight: 1, Prerequisites: []string{"fractions"}},
		{Code: "percent", Subject: "MAT", Weight: 1, Prerequisites: []string{"ratios"}},
		{Code: "algebra", Subject: "MAT", Weight: 2, Prerequisites: []string{"percent"}},
		{Code: "grammar", Subject: "TUR", Weight: 1},
	}
	res := scoring.ScoredResult{Topics: []scoring.TopicTally{
		// algebra is the worst topic but depends on fractions through ratios.
		tally("algebra", "MAT", 10, 0),
		tally("ratios", "MAT", 10, 6),
		tally("percent", "MAT", 10, 3),
		tally("fractions", "MAT", 10, 4),
		tally("grammar", "TUR", 10, 9),
	}}

	report := AnalyzeTopics(res, catalogue, CoefficientTable{}, DefaultConfig())

	var order []string
	for _, g := range report.Gaps {
		order = append(order, g.Topic)
	}
	if want := []string{"fractions", "percent", "algebra"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("gap order = %v, want %v", order, want)
	}
	if !report.Gaps[0].RootCause || report.Gaps[1].RootCause {
		t.Errorf("root cause flags = %v/%v", report.Gaps[0].RootCause, report.Gaps[1].RootCause)
	}
	if want := []string{"fractions", "percent"}; !reflect.DeepEqual(report.Gaps[2].BlockedBy, want) {
		t.Errorf("algebra blocked by %v, want %v", report.Gaps[2].BlockedBy, want)
	}
	if !reflect.DeepEqual(report.Strengths, []string{"grammar"}) {
		t.Errorf("strengths = %v", report.Strengths)
	}
}

func TestAnalyzeTopicsCycle(t *testing.T) {
	catalogue := []Topic{
		{Code: "a", Subject: "MAT", Prerequisites: []string{"b"}},
		{Code: "b", Subject: "MAT", Prerequisites: []string{"a"}},
	}
	res := scoring.ScoredResult{Topics: []scoring.TopicTally{
		tally("a", "MAT", 4, 1),
		tally("b", "MAT", 4, 0),
	}}

	report := AnalyzeTopics(res, catalogue, CoefficientTable{}, DefaultConfig())
	if len(report.Gaps) != 2 {
		t.Fatalf("gaps = %d, want 2", len(report.Gaps))
	}
	if report.Gaps[0].Topic != "b" || report.Gaps[1].Topic != "a" {
		t.Errorf("cycle fallback order = %s,%s, want b,a", report.Gaps[0].Topic, report.Gaps[1].Topic)
	}
}

func TestPriorities(t *testing.T) {
	table := CoefficientTable{Subjects: map[string]float64{"MAT": 3, "TUR": 1}}
	res := scoring.ScoredResult{Topics: []scoring.TopicTally{
		tally("t-grammar", "TUR", 10, 3),
		tally("m-algebra", "MAT", 10, 3),
		tally("m-geometry", "MAT", 10, 6),
		tally("m-sets", "MAT", 10, 1),
		tally("t-reading", "TUR", 10, 9),
	}}

	report := AnalyzeTopics(res, nil, table, DefaultConfig())

	var got []string
	for _, p := range report.Priorities {
		got = append(got, p.Topic)
	}
	// Equal mastery breaks on higher coefficient-weighted importance.
	want := []string{"m-sets", "m-algebra", "t-grammar", "m-geometry"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("priorities = %v, want %v", got, want)
	}
	if report.Priorities[0].Rank != 1 {
		t.Errorf("first rank = %d", report.Priorities[0].Rank)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	in := Input{
		Result: scoring.ScoredResult{
			Questions:    20,
			TotalCorrect: 12,
			TotalWrong:   6,
			TotalNet:     10,
			Subjects:     []scoring.SubjectScore{{Subject: "MAT", Correct: 12, Wrong: 6, Net: 10}},
			Topics: []scoring.TopicTally{
				tally("x", "MAT", 10, 7),
				tally("y", "MAT", 10, 5),
			},
		},
		Populations:  []Population{{Scope: ScopeClass, Values: []float64{4, 10}}, {Scope: ScopeExam, Values: []float64{2, 4, 6, 8, 10, 12}}},
		Coefficients: CoefficientTable{ExamType: "TYT", Base: 100, Subjects: map[string]float64{"MAT": 3.3}},
		History:      []float64{120, 131},
	}

	a := Analyze(in, DefaultConfig())
	b := Analyze(in, DefaultConfig())
	if !reflect.DeepEqual(a, b) {
		t.Fatal("Analyze is not deterministic")
	}
	if a.Normalized[0].Status != NormInsufficientSample || a.Normalized[1].Status != NormOK {
		t.Errorf("normalized statuses = %s/%s", a.Normalized[0].Status, a.Normalized[1].Status)
	}
	if a.Composite.Score != 133 {
		t.Errorf("composite = %v, want 133", a.Composite.Score)
	}
}
