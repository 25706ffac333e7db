package scoring

import (
	"fmt"
	"math/big"
	"unicode/utf8"
)

// SubjectScore is the per-subject outcome of a sheet.
type SubjectScore struct {
	Subject string `json:"subject"`
	Correct int    `json:"correct"`
	Wrong   int    `json:"wrong"`
	Blank   int    `json:"blank"`
	// RawNet is the exact rational correct - wrong/divisor, possibly negative.
	RawNet string `json:"raw_net"`
	// Net is RawNet floored at zero and rounded by the policy.
	Net float64 `json:"net"`
}

// Answered returns the number of non-blank answers.
func (s SubjectScore) Answered() int {
	return s.Correct + s.Wrong
}

// TopicTally counts outcomes per topic; the analytics engine turns it into mastery.
type TopicTally struct {
	Topic     string `json:"topic"`
	Subject   string `json:"subject"`
	Questions int    `json:"questions"`
	Correct   int    `json:"correct"`
	Wrong     int    `json:"wrong"`
	Blank     int    `json:"blank"`
}

// ScoredResult is the immutable result of scoring one sheet. Only Score
// creates it; consumers must treat it as read-only.
type ScoredResult struct {
	StudentID    int            `json:"student_id"`
	Booklet      string         `json:"booklet"`
	Questions    int            `json:"questions"`
	Subjects     []SubjectScore `json:"subjects"`
	Topics       []TopicTally   `json:"topics,omitempty"`
	TotalCorrect int            `json:"total_correct"`
	TotalWrong   int            `json:"total_wrong"`
	TotalBlank   int            `json:"total_blank"`
	// TotalNet sums the floored subject nets.
	TotalNet float64 `json:"total_net"`
}

// Subject returns the score of the named subject.
func (r ScoredResult) Subject(code string) (SubjectScore, bool) {
	for _, s := range r.Subjects {
		if s.Subject == code {
			return s, true
		}
	}
	return SubjectScore{}, false
}

// ValidateKey checks the key against the policy's option letters.
func ValidateKey(key AnswerKey, policy Policy) error {
	if len(key.Items) == 0 {
		return &ValidationError{Kind: KindInvalidKey, Detail: "answer key is empty"}
	}
	for i, it := range key.Items {
		if it.Index != i {
			return &ValidationError{Kind: KindInvalidKey, Position: i, Detail: fmt.Sprintf("item index %d out of order", it.Index)}
		}
		if it.Subject == "" {
			return &ValidationError{Kind: KindInvalidKey, Position: i, Detail: "item has no subject"}
		}
		if len(it.Correct) != 1 || !policy.isOption(upper(it.Correct[0])) {
			return &ValidationError{Kind: KindInvalidKey, Position: i, Detail: fmt.Sprintf("correct option %q is not valid", it.Correct)}
		}
	}
	return nil
}

// Score converts a booklet sheet into per-subject counts and nets.
//
// The sheet is first translated onto the canonical key through the rotation
// registered for its booklet, so every printing of the exam is compared
// against the same logical key.
func Score(sheet RawAnswerSheet, key AnswerKey, rotations RotationMap, policy Policy) (ScoredResult, error) {
	if err := policy.Validate(); err != nil {
		return ScoredResult{}, err
	}
	if err := ValidateKey(key, policy); err != nil {
		return ScoredResult{}, err
	}

	n := key.Len()
	if got := utf8.RuneCountInString(sheet.Answers); got != n {
		return ScoredResult{}, &ValidationError{Kind: KindLengthMismatch, Booklet: sheet.Booklet, Expected: n, Got: got}
	}

	rot, ok := rotations[sheet.Booklet]
	if !ok {
		return ScoredResult{}, &ValidationError{Kind: KindUnknownBooklet, Booklet: sheet.Booklet}
	}
	if err := rot.Validate(n, policy.Options); err != nil {
		if ve, ok := AsValidation(err); ok {
			ve.Booklet = sheet.Booklet
		}
		return ScoredResult{}, err
	}

	// Marks are checked in printed order so positions match the physical sheet.
	for pos, r := range []rune(sheet.Answers) {
		if r < utf8.RuneSelf {
			b := upper(byte(r))
			if isBlank(b) || b == MarkMulti || policy.isOption(b) {
				continue
			}
		}
		return ScoredResult{}, &ValidationError{
			Kind:     KindInvalidMark,
			Booklet:  sheet.Booklet,
			Position: pos,
			Detail:   fmt.Sprintf("%q is not an option, blank or multi-mark", r),
		}
	}

	canonical := ToCanonical(sheet, key.Variant, rot)
	return tally(canonical, sheet.Booklet, key, policy), nil
}

func tally(canonical RawAnswerSheet, booklet string, key AnswerKey, policy Policy) ScoredResult {
	res := ScoredResult{
		StudentID: canonical.StudentID,
		Booklet:   booklet,
		Questions: key.Len(),
	}

	subjectIdx := make(map[string]int)
	topicIdx := make(map[string]int)

	for i, it := range key.Items {
		si, ok := subjectIdx[it.Subject]
		if !ok {
			si = len(res.Subjects)
			subjectIdx[it.Subject] = si
			res.Subjects = append(res.Subjects, SubjectScore{Subject: it.Subject})
		}
		ti := -1
		if it.Topic != "" {
			var ok bool
			ti, ok = topicIdx[it.Topic]
			if !ok {
				ti = len(res.Topics)
				topicIdx[it.Topic] = ti
				res.Topics = append(res.Topics, TopicTally{Topic: it.Topic, Subject: it.Subject})
			}
			res.Topics[ti].Questions++
		}

		b := canonical.Answers[i]
		switch {
		case isBlank(b):
			res.Subjects[si].Blank++
			res.TotalBlank++
			if ti >= 0 {
				res.Topics[ti].Blank++
			}
		case b == upper(it.Correct[0]):
			res.Subjects[si].Correct++
			res.TotalCorrect++
			if ti >= 0 {
				res.Topics[ti].Correct++
			}
		default:
			// Wrong option or multiple marks.
			res.Subjects[si].Wrong++
			res.TotalWrong++
			if ti >= 0 {
				res.Topics[ti].Wrong++
			}
		}
	}

	total := new(big.Rat)
	for i := range res.Subjects {
		s := &res.Subjects[i]
		s.RawNet = policy.RawNet(s.Correct, s.Wrong).RatString()
		net := policy.SubjectNet(s.Correct, s.Wrong)
		s.Net = policy.Report(net)
		total.Add(total, net)
	}
	res.TotalNet = policy.Report(total)
	return res
}
