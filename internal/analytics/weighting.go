package analytics

import "github.com/stemsi/exstem-analytics/internal/scoring"

// CoefficientTable holds the official per-subject coefficients of one exam
// type. Different exam types are supported by supplying a different table.
type CoefficientTable struct {
	ExamType string             `json:"exam_type"`
	Base     float64            `json:"base"`
	Subjects map[string]float64 `json:"subjects"`
}

// coefficient returns the subject coefficient, or 1 when the table has none.
func (t CoefficientTable) coefficient(subject string) float64 {
	if c, ok := t.Subjects[subject]; ok {
		return c
	}
	return 1
}

// Contribution is one subject's share of the composite.
type Contribution struct {
	Subject     string  `json:"subject"`
	Net         float64 `json:"net"`
	Coefficient float64 `json:"coefficient"`
	Points      float64 `json:"points"`
}

// Composite is the weighted predicted score.
type Composite struct {
	ExamType      string         `json:"exam_type"`
	Base          float64        `json:"base"`
	Score         float64        `json:"score"`
	Contributions []Contribution `json:"contributions"`
	// Unweighted lists subjects the table has no coefficient for; they add nothing.
	Unweighted []string `json:"unweighted,omitempty"`
}

// Weight applies the coefficient table to the floored subject nets.
func Weight(res scoring.ScoredResult, table CoefficientTable) Composite {
	out := Composite{ExamType: table.ExamType, Base: table.Base}
	score := table.Base
	for _, s := range res.Subjects {
		c, ok := table.Subjects[s.Subject]
		if !ok {
			out.Unweighted = append(out.Unweighted, s.Subject)
			continue
		}
		pts := s.Net * c
		score += pts
		out.Contributions = append(out.Contributions, Contribution{
			Subject:     s.Subject,
			Net:         s.Net,
			Coefficient: c,
			Points:      round(pts, 4),
		})
	}
	out.Score = round(score, 4)
	return out
}
