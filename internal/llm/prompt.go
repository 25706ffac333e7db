package llm

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/model"
)

const (
	StudentSystemPrompt = "You are a supportive exam coach writing directly to a high-school student " +
		"about their practice exam. Be encouraging and concrete. Address the student as \"you\". " +
		"Name at most three topics to work on, starting with the most fundamental. " +
		"Keep it under 150 words. Do not invent numbers that are not in the data."

	ParentSystemPrompt = "You are a school counsellor writing to the parent of a high-school student " +
		"about a practice exam. Explain the result in plain language without jargon such as z-score. " +
		"Suggest one or two ways the parent can support study at home. " +
		"Keep it under 150 words. Do not invent numbers that are not in the data."

	TeacherSystemPrompt = "You are an assessment analyst writing to a teacher about one student's practice exam. " +
		"Be precise and brief. Point out root-cause topic gaps and how they block later topics, " +
		"state how reliable the result is, and suggest a remediation order. " +
		"Use at most 6 bullet points. Do not invent numbers that are not in the data."
)

// Brief is optional caller context. It is applied around generated text and
// never reaches the model.
type Brief struct {
	StudentName string
	Goal        string
}

// BuildUserPrompt renders the snapshot as the factual part of the prompt.
func BuildUserPrompt(s *model.Snapshot) string {
	var sb strings.Builder
	a := s.Analytics

	sb.WriteString(fmt.Sprintf("EXAM TYPE: %s\n", a.Composite.ExamType))
	sb.WriteString(fmt.Sprintf("COMPOSITE SCORE: %.2f\n", a.Composite.Score))
	sb.WriteString(fmt.Sprintf("TOTAL NET: %.2f of %d questions (correct %d, wrong %d, blank %d)\n",
		s.Result.TotalNet, s.Result.Questions, s.Result.TotalCorrect, s.Result.TotalWrong, s.Result.TotalBlank))

	sb.WriteString("\nSUBJECTS:\n")
	for _, sub := range s.Result.Subjects {
		sb.WriteString(fmt.Sprintf("- %s: net %.2f (correct %d, wrong %d, blank %d)\n",
			sub.Subject, sub.Net, sub.Correct, sub.Wrong, sub.Blank))
	}

	for _, n := range a.Normalized {
		if n.Status != analytics.NormOK {
			sb.WriteString(fmt.Sprintf("RANK IN %s: not enough students to compare\n", strings.ToUpper(string(n.Scope))))
			continue
		}
		sb.WriteString(fmt.Sprintf("RANK IN %s: percentile %.0f of %d students\n",
			strings.ToUpper(string(n.Scope)), *n.Percentile, n.SampleSize))
	}

	if len(a.Gaps) > 0 {
		sb.WriteString("\nGAPS (prerequisites first):\n")
		for _, g := range a.Gaps {
			line := fmt.Sprintf("- %s (%s): mastery %.0f%%", g.Topic, g.Subject, g.Mastery*100)
			if g.RootCause {
				line += ", root cause"
			} else if len(g.BlockedBy) > 0 {
				line += ", blocked by " + strings.Join(g.BlockedBy, ", ")
			}
			sb.WriteString(line + "\n")
		}
	}
	if len(a.Strengths) > 0 {
		sb.WriteString("\nSTRENGTHS: " + strings.Join(a.Strengths, ", ") + "\n")
	}

	sb.WriteString(fmt.Sprintf("\nCONFIDENCE: %s (%.2f)\n", a.Confidence.Level, a.Confidence.Score))
	if a.Confidence.Low {
		sb.WriteString("The result is not very reliable; say so gently and avoid strong conclusions.\n")
	}
	return sb.String()
}
