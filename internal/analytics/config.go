// Package analytics turns scored sheets into normalized, weighted,
// confidence-scored and topic-annotated results. Every function is pure:
// identical input always yields identical output and nothing here performs I/O.
package analytics

// Config holds the tunable thresholds of the engine.
type Config struct {
	// MinSampleSize is the smallest population that may be normalized against.
	MinSampleSize int `json:"min_sample_size"`
	// MasteryThreshold separates weaknesses (below) from on-track topics.
	MasteryThreshold float64 `json:"mastery_threshold"`
	// StrengthThreshold is the mastery at or above which a topic is a strength.
	StrengthThreshold float64 `json:"strength_threshold"`
	// LowConfidenceThreshold tags outputs whose confidence falls below it.
	LowConfidenceThreshold float64 `json:"low_confidence_threshold"`
	// TargetAnswers is the answered-question count that earns full answer confidence.
	TargetAnswers int `json:"target_answers"`
	// TargetPopulation is the population size that earns full population confidence.
	TargetPopulation int `json:"target_population"`
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:          5,
		MasteryThreshold:       0.5,
		StrengthThreshold:      0.8,
		LowConfidenceThreshold: 0.5,
		TargetAnswers:          20,
		TargetPopulation:       30,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = d.MinSampleSize
	}
	if c.MasteryThreshold <= 0 {
		c.MasteryThreshold = d.MasteryThreshold
	}
	if c.StrengthThreshold <= 0 {
		c.StrengthThreshold = d.StrengthThreshold
	}
	if c.StrengthThreshold < c.MasteryThreshold {
		c.StrengthThreshold = c.MasteryThreshold
	}
	if c.LowConfidenceThreshold <= 0 {
		c.LowConfidenceThreshold = d.LowConfidenceThreshold
	}
	if c.TargetAnswers <= 0 {
		c.TargetAnswers = d.TargetAnswers
	}
	if c.TargetPopulation <= 0 {
		c.TargetPopulation = d.TargetPopulation
	}
	return c
}
