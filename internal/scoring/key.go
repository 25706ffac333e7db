package scoring

// KeyItem is one canonical question: its subject, optional topic and the
// correct option letter.
type KeyItem struct {
	Index   int    `json:"index"`
	Subject string `json:"subject"`
	Topic   string `json:"topic,omitempty"`
	Correct string `json:"correct"`
}

// AnswerKey is the canonical answer key shared by every booklet printing.
// Variant names the canonical booklet (usually "A").
type AnswerKey struct {
	Variant string    `json:"variant"`
	Items   []KeyItem `json:"items"`
}

// Len returns the number of questions in the key.
func (k AnswerKey) Len() int {
	return len(k.Items)
}

// Subjects returns the subject codes in order of first appearance.
func (k AnswerKey) Subjects() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range k.Items {
		if !seen[it.Subject] {
			seen[it.Subject] = true
			out = append(out, it.Subject)
		}
	}
	return out
}

// RawAnswerSheet is a student's answer string as printed on their booklet.
// One rune per question: an option letter, a blank mark or a multi-mark.
type RawAnswerSheet struct {
	StudentID int    `json:"student_id"`
	Booklet   string `json:"booklet"`
	Answers   string `json:"answers"`
}

// Marks recognised on a sheet besides option letters.
const (
	MarkBlank      = '-'
	MarkMulti      = '*'
	markBlankSpace = ' '
	markBlankUnder = '_'
)

func isBlank(b byte) bool {
	return b == MarkBlank || b == markBlankSpace || b == markBlankUnder
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
