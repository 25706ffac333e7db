package analytics

import (
	"sort"

	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// Topic is catalogue metadata: the topic's subject, its relative weight and
// the topics that must be mastered first.
type Topic struct {
	Code          string   `json:"code"`
	Subject       string   `json:"subject"`
	Weight        float64  `json:"weight"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// TopicStatus classifies a topic by mastery.
type TopicStatus string

const (
	TopicStrength TopicStatus = "strength"
	TopicWeakness TopicStatus = "weakness"
	TopicOnTrack  TopicStatus = "on_track"
)

// TopicResult is the mastery of one topic on this sheet.
type TopicResult struct {
	Code      string      `json:"code"`
	Subject   string      `json:"subject"`
	Questions int         `json:"questions"`
	Correct   int         `json:"correct"`
	Mastery   float64     `json:"mastery"`
	Status    TopicStatus `json:"status"`
	// Weight is the catalogue weight scaled by the subject coefficient.
	Weight float64 `json:"weight"`
}

// Gap is a weak topic placed in prerequisite order.
type Gap struct {
	Topic   string  `json:"topic"`
	Subject string  `json:"subject"`
	Mastery float64 `json:"mastery"`
	// RootCause is true when no other gap sits upstream of this one.
	RootCause bool `json:"root_cause"`
	// BlockedBy lists upstream gaps, directly or through intermediate topics.
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// Priority is one entry of the study list.
type Priority struct {
	Rank    int         `json:"rank"`
	Topic   string      `json:"topic"`
	Subject string      `json:"subject"`
	Status  TopicStatus `json:"status"`
	Mastery float64     `json:"mastery"`
	Weight  float64     `json:"weight"`
}

// TopicReport bundles the topic-level outputs.
type TopicReport struct {
	Topics     []TopicResult `json:"topics"`
	Gaps       []Gap         `json:"gaps"`
	Strengths  []string      `json:"strengths"`
	Priorities []Priority    `json:"priorities"`
}

// AnalyzeTopics computes mastery per topic, detects gaps in dependency order
// and ranks what to study next. Topics with no questions on the sheet are
// not reported.
func AnalyzeTopics(res scoring.ScoredResult, catalogue []Topic, table CoefficientTable, cfg Config) TopicReport {
	cfg = cfg.withDefaults()

	meta := make(map[string]Topic, len(catalogue))
	for _, t := range catalogue {
		meta[t.Code] = t
	}

	report := TopicReport{
		Topics:     []TopicResult{},
		Gaps:       []Gap{},
		Strengths:  []string{},
		Priorities: []Priority{},
	}
	for _, tally := range res.Topics {
		if tally.Questions == 0 {
			continue
		}
		weight := 1.0
		if m, ok := meta[tally.Topic]; ok && m.Weight > 0 {
			weight = m.Weight
		}
		mastery := round(float64(tally.Correct)/float64(tally.Questions), 4)
		report.Topics = append(report.Topics, TopicResult{
			Code:      tally.Topic,
			Subject:   tally.Subject,
			Questions: tally.Questions,
			Correct:   tally.Correct,
			Mastery:   mastery,
			Status:    classify(mastery, cfg),
			Weight:    round(weight*table.coefficient(tally.Subject), 4),
		})
	}
	sort.SliceStable(report.Topics, func(i, j int) bool {
		return report.Topics[i].Code < report.Topics[j].Code
	})

	for _, t := range report.Topics {
		if t.Status == TopicStrength {
			report.Strengths = append(report.Strengths, t.Code)
		}
	}

	report.Gaps = orderGaps(report.Topics, meta)
	report.Priorities = prioritize(report.Topics)
	return report
}

func classify(mastery float64, cfg Config) TopicStatus {
	switch {
	case mastery >= cfg.StrengthThreshold:
		return TopicStrength
	case mastery < cfg.MasteryThreshold:
		return TopicWeakness
	default:
		return TopicOnTrack
	}
}

// orderGaps sorts weak topics so that a gap never precedes a gap it depends
// on. Ties break on lower mastery then code. Gaps caught in a prerequisite
// cycle are appended afterwards in the same tie-break order.
func orderGaps(topics []TopicResult, meta map[string]Topic) []Gap {
	weak := make(map[string]TopicResult)
	for _, t := range topics {
		if t.Status == TopicWeakness {
			weak[t.Code] = t
		}
	}
	if len(weak) == 0 {
		return []Gap{}
	}

	blockedBy := make(map[string][]string, len(weak))
	for code := range weak {
		var up []string
		for _, a := range ancestors(code, meta) {
			if _, ok := weak[a]; ok {
				up = append(up, a)
			}
		}
		sort.Strings(up)
		blockedBy[code] = up
	}

	less := func(a, b string) bool {
		if weak[a].Mastery != weak[b].Mastery {
			return weak[a].Mastery < weak[b].Mastery
		}
		return a < b
	}

	indegree := make(map[string]int, len(weak))
	dependents := make(map[string][]string, len(weak))
	for code, ups := range blockedBy {
		indegree[code] = len(ups)
		for _, u := range ups {
			dependents[u] = append(dependents[u], code)
		}
	}

	var ready []string
	for code, d := range indegree {
		if d == 0 {
			ready = append(ready, code)
		}
	}

	gaps := make([]Gap, 0, len(weak))
	done := make(map[string]bool, len(weak))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		code := ready[0]
		ready = ready[1:]
		done[code] = true
		gaps = append(gaps, newGap(weak[code], blockedBy[code]))
		for _, d := range dependents[code] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(gaps) < len(weak) {
		var rest []string
		for code := range weak {
			if !done[code] {
				rest = append(rest, code)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return less(rest[i], rest[j]) })
		for _, code := range rest {
			gaps = append(gaps, newGap(weak[code], blockedBy[code]))
		}
	}
	return gaps
}

func newGap(t TopicResult, blockedBy []string) Gap {
	return Gap{
		Topic:     t.Code,
		Subject:   t.Subject,
		Mastery:   t.Mastery,
		RootCause: len(blockedBy) == 0,
		BlockedBy: blockedBy,
	}
}

// ancestors returns every topic reachable through prerequisite edges.
func ancestors(code string, meta map[string]Topic) []string {
	seen := map[string]bool{code: true}
	stack := append([]string(nil), meta[code].Prerequisites...)
	var out []string
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, meta[cur].Prerequisites...)
	}
	return out
}

// prioritize ranks weaknesses before on-track topics, then lower mastery,
// then higher weight, then code. Strengths are left out.
func prioritize(topics []TopicResult) []Priority {
	var cand []TopicResult
	for _, t := range topics {
		if t.Status != TopicStrength {
			cand = append(cand, t)
		}
	}
	sort.SliceStable(cand, func(i, j int) bool {
		a, b := cand[i], cand[j]
		if a.Status != b.Status {
			return a.Status == TopicWeakness
		}
		if a.Mastery != b.Mastery {
			return a.Mastery < b.Mastery
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.Code < b.Code
	})

	out := make([]Priority, 0, len(cand))
	for i, t := range cand {
		out = append(out, Priority{
			Rank:    i + 1,
			Topic:   t.Code,
			Subject: t.Subject,
			Status:  t.Status,
			Mastery: t.Mastery,
			Weight:  t.Weight,
		})
	}
	return out
}
