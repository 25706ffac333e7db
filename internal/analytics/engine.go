package analytics

import "github.com/stemsi/exstem-analytics/internal/scoring"

// Input is everything Analyze needs for one student on one exam.
type Input struct {
	Result       scoring.ScoredResult `json:"result"`
	Populations  []Population         `json:"populations"`
	Coefficients CoefficientTable     `json:"coefficients"`
	Topics       []Topic              `json:"topics"`
	// History holds the student's earlier composite scores, oldest first.
	History []float64 `json:"history"`
}

// Output is the full analytics bundle stored in a snapshot.
type Output struct {
	Normalized []NormalizedScore `json:"normalized"`
	Composite  Composite         `json:"composite"`
	Confidence Confidence        `json:"confidence"`
	TopicReport
}

// Analyze runs every stage of the engine over in.
func Analyze(in Input, cfg Config) Output {
	cfg = cfg.withDefaults()

	out := Output{Normalized: make([]NormalizedScore, 0, len(in.Populations))}
	largest := 0
	for _, p := range in.Populations {
		out.Normalized = append(out.Normalized, Normalize(in.Result.TotalNet, p, cfg.MinSampleSize))
		if len(p.Values) > largest {
			largest = len(p.Values)
		}
	}

	out.Composite = Weight(in.Result, in.Coefficients)
	out.Confidence = AssessConfidence(in.Result.TotalCorrect+in.Result.TotalWrong, largest, in.History, cfg)
	out.TopicReport = AnalyzeTopics(in.Result, in.Topics, in.Coefficients, cfg)
	return out
}
