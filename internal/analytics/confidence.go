package analytics

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const highConfidence = 0.75

// Confidence is a 0-1 reliability estimate. Low marks outputs consumers
// should visually downgrade.
type Confidence struct {
	Score            float64 `json:"score"`
	Level            string  `json:"level"`
	Low              bool    `json:"low"`
	AnswerFactor     float64 `json:"answer_factor"`
	PopulationFactor float64 `json:"population_factor"`
	StabilityFactor  float64 `json:"stability_factor"`
}

// AssessConfidence combines how many questions were answered, how large the
// comparison population is, and how stable the student's history has been.
func AssessConfidence(answered, populationSize int, history []float64, cfg Config) Confidence {
	cfg = cfg.withDefaults()

	answer := clamp01(float64(answered) / float64(cfg.TargetAnswers))
	population := clamp01(float64(populationSize) / float64(cfg.TargetPopulation))
	stability := historyStability(history)

	score := round(0.4*answer+0.3*population+0.3*stability, 4)

	level := ConfidenceLow
	switch {
	case score >= highConfidence:
		level = ConfidenceHigh
	case score >= cfg.LowConfidenceThreshold:
		level = ConfidenceMedium
	}

	return Confidence{
		Score:            score,
		Level:            level,
		Low:              score < cfg.LowConfidenceThreshold,
		AnswerFactor:     round(answer, 4),
		PopulationFactor: round(population, 4),
		StabilityFactor:  round(stability, 4),
	}
}

// historyStability is 1/(1+cv) over past results; unknown with fewer than two.
func historyStability(history []float64) float64 {
	if len(history) < 2 {
		return 0.5
	}
	data := stats.Float64Data(history)
	mean, err := stats.Mean(data)
	if err != nil {
		return 0.5
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return 0.5
	}
	spread := sd
	if m := math.Abs(mean); m > 0 {
		spread = sd / m
	}
	return 1 / (1 + spread)
}
