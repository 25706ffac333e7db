package service

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-analytics/internal/llm"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// Audience is who a commentary is written for. The set is closed: Student,
// Parent and Teacher are the only implementations.
type Audience interface {
	Role() string
	systemPrompt() string
	fallback(s *model.Snapshot) string
	personalize(text string, b llm.Brief) string
}

type (
	Student struct{}
	Parent  struct{}
	Teacher struct{}
)

// ParseAudience maps a role name to its Audience.
func ParseAudience(role string) (Audience, bool) {
	switch strings.ToLower(role) {
	case "student":
		return Student{}, true
	case "parent":
		return Parent{}, true
	case "teacher":
		return Teacher{}, true
	default:
		return nil, false
	}
}

func (Student) Role() string { return "student" }
func (Parent) Role() string  { return "parent" }
func (Teacher) Role() string { return "teacher" }

func (Student) systemPrompt() string { return llm.StudentSystemPrompt }
func (Parent) systemPrompt() string  { return llm.ParentSystemPrompt }
func (Teacher) systemPrompt() string { return llm.TeacherSystemPrompt }

func (Student) fallback(s *model.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You scored a net of %.2f on this exam (composite %.2f). ",
		s.Result.TotalNet, s.Analytics.Composite.Score)
	if str := topStrength(s); str != "" {
		fmt.Fprintf(&sb, "Your strongest topic is %s, keep it up. ", str)
	}
	if g := firstGap(s); g != "" {
		fmt.Fprintf(&sb, "Start your review with %s, since later topics build on it. ", g)
	} else {
		sb.WriteString("No topic fell below the mastery threshold. ")
	}
	if s.Analytics.Confidence.Low {
		sb.WriteString("This result is based on limited data, so treat it as a rough guide.")
	}
	return strings.TrimSpace(sb.String())
}

func (Parent) fallback(s *model.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your child answered %d of %d questions correctly on this practice exam. ",
		s.Result.TotalCorrect, s.Result.Questions)
	if str := topStrength(s); str != "" {
		fmt.Fprintf(&sb, "They did well in %s. ", str)
	}
	if g := firstGap(s); g != "" {
		fmt.Fprintf(&sb, "The most helpful next step is practice on %s. ", g)
	}
	if s.Analytics.Confidence.Low {
		sb.WriteString("One exam says only a little, so please read this result with care.")
	}
	return strings.TrimSpace(sb.String())
}

func (Teacher) fallback(s *model.Snapshot) string {
	a := s.Analytics
	lines := []string{
		fmt.Sprintf("- Net %.2f, composite %.2f (%s).", s.Result.TotalNet, a.Composite.Score, a.Composite.ExamType),
		fmt.Sprintf("- Confidence %s (%.2f).", a.Confidence.Level, a.Confidence.Score),
	}
	if len(a.Gaps) > 0 {
		order := make([]string, 0, len(a.Gaps))
		for _, g := range a.Gaps {
			order = append(order, g.Topic)
		}
		lines = append(lines, "- Remediation order: "+strings.Join(order, " -> ")+".")
	}
	if len(a.Strengths) > 0 {
		lines = append(lines, "- Strengths: "+strings.Join(a.Strengths, ", ")+".")
	}
	return strings.Join(lines, "\n")
}

// personalize wraps shared text with the caller's brief. The text itself is
// the same for every caller of a key.
func (Student) personalize(text string, b llm.Brief) string {
	if b.StudentName != "" {
		text = "Hi " + b.StudentName + ",\n\n" + text
	}
	if b.Goal != "" {
		text += "\n\nEvery topic you close brings you nearer to " + b.Goal + "."
	}
	return text
}

func (Parent) personalize(text string, b llm.Brief) string {
	if b.StudentName != "" {
		text = "About " + b.StudentName + ":\n\n" + text
	}
	if b.Goal != "" {
		text += "\n\nStated goal: " + b.Goal + "."
	}
	return text
}

func (Teacher) personalize(text string, b llm.Brief) string {
	var head []string
	if b.StudentName != "" {
		head = append(head, "Student: "+b.StudentName)
	}
	if b.Goal != "" {
		head = append(head, "Goal: "+b.Goal)
	}
	if len(head) == 0 {
		return text
	}
	return strings.Join(head, "\n") + "\n\n" + text
}

// firstGap is the gap to work on first: a root cause when there is one.
func firstGap(s *model.Snapshot) string {
	if len(s.Analytics.Gaps) == 0 {
		return ""
	}
	return s.Analytics.Gaps[0].Topic
}

func topStrength(s *model.Snapshot) string {
	if len(s.Analytics.Strengths) == 0 {
		return ""
	}
	return s.Analytics.Strengths[0]
}
