package analytics

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Scope names the population a score is compared against.
type Scope string

const (
	ScopeClass  Scope = "class"
	ScopeExam   Scope = "exam"
	ScopeCohort Scope = "cohort"
)

// Population is the set of comparable values (nets) within one scope.
type Population struct {
	Scope  Scope     `json:"scope"`
	Values []float64 `json:"values"`
}

// NormStatus tells whether a normalized score could be computed.
type NormStatus string

const (
	NormOK                 NormStatus = "ok"
	NormInsufficientSample NormStatus = "insufficient_sample"
)

// NormalizedScore places one value within a population. When Status is
// insufficient_sample every statistic is nil.
type NormalizedScore struct {
	Scope      Scope      `json:"scope"`
	Status     NormStatus `json:"status"`
	SampleSize int        `json:"sample_size"`
	Value      float64    `json:"value"`
	Mean       *float64   `json:"mean,omitempty"`
	StdDev     *float64   `json:"std_dev,omitempty"`
	ZScore     *float64   `json:"z_score,omitempty"`
	MinMax     *float64   `json:"min_max,omitempty"`
	Percentile *float64   `json:"percentile,omitempty"`
}

// Normalize computes the z-score, min-max scaled value and percentile rank of
// value within pop. Populations smaller than minSample are not normalized.
func Normalize(value float64, pop Population, minSample int) NormalizedScore {
	out := NormalizedScore{
		Scope:      pop.Scope,
		SampleSize: len(pop.Values),
		Value:      value,
	}
	if len(pop.Values) < minSample || len(pop.Values) == 0 {
		out.Status = NormInsufficientSample
		return out
	}

	data := stats.Float64Data(pop.Values)
	mean, err := stats.Mean(data)
	if err != nil {
		out.Status = NormInsufficientSample
		return out
	}
	sd, _ := stats.StandardDeviationPopulation(data)
	lo, _ := stats.Min(data)
	hi, _ := stats.Max(data)

	z := 0.0
	if sd > 0 {
		z = (value - mean) / sd
	}
	mm := 0.5
	if hi > lo {
		mm = clamp01((value - lo) / (hi - lo))
	}

	below, equal := 0, 0
	for _, v := range pop.Values {
		switch {
		case v < value:
			below++
		case v == value:
			equal++
		}
	}
	pct := (float64(below) + 0.5*float64(equal)) / float64(len(pop.Values)) * 100

	out.Status = NormOK
	out.Mean = ptr(round(mean, 4))
	out.StdDev = ptr(round(sd, 4))
	out.ZScore = ptr(round(z, 4))
	out.MinMax = ptr(round(mm, 4))
	out.Percentile = ptr(round(pct, 2))
	return out
}

func ptr(v float64) *float64 {
	return &v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
