package scoring

import (
	"fmt"
	"strings"
)

// Rotation maps one printed booklet onto the canonical key.
// Order[i] is the canonical index of the question printed at position i.
// Options optionally relabels printed option letters to canonical ones.
type Rotation struct {
	Order   []int             `json:"order"`
	Options map[string]string `json:"options,omitempty"`
}

// RotationMap is keyed by booklet variant.
type RotationMap map[string]Rotation

// Identity returns the rotation of the canonical booklet itself.
func Identity(n int) Rotation {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return Rotation{Order: order}
}

// Validate checks that Order is a bijection over [0, n) and that Options is a
// bijection over the policy's option letters.
func (r Rotation) Validate(n int, options string) error {
	if len(r.Order) != n {
		return &ValidationError{
			Kind:     KindInvalidRotation,
			Expected: n,
			Got:      len(r.Order),
			Detail:   fmt.Sprintf("order covers %d questions, key has %d", len(r.Order), n),
		}
	}
	seen := make([]bool, n)
	for pos, idx := range r.Order {
		if idx < 0 || idx >= n {
			return &ValidationError{Kind: KindInvalidRotation, Position: pos, Detail: fmt.Sprintf("index %d out of range", idx)}
		}
		if seen[idx] {
			return &ValidationError{Kind: KindInvalidRotation, Position: pos, Detail: fmt.Sprintf("index %d appears twice", idx)}
		}
		seen[idx] = true
	}

	if len(r.Options) == 0 {
		return nil
	}
	valid := strings.ToUpper(options)
	sources := make(map[string]bool, len(r.Options))
	targets := make(map[string]bool, len(r.Options))
	for from, to := range r.Options {
		from, to = strings.ToUpper(from), strings.ToUpper(to)
		if len(from) != 1 || len(to) != 1 || !strings.Contains(valid, from) || !strings.Contains(valid, to) {
			return &ValidationError{Kind: KindInvalidRotation, Detail: fmt.Sprintf("option relabel %q->%q is not a valid option pair", from, to)}
		}
		if sources[from] || targets[to] {
			return &ValidationError{Kind: KindInvalidRotation, Detail: fmt.Sprintf("option relabel %q->%q is not one-to-one", from, to)}
		}
		sources[from] = true
		targets[to] = true
	}
	// Unmapped letters keep their label, so the mapped letters must permute
	// among themselves.
	for s := range sources {
		if !targets[s] {
			return &ValidationError{Kind: KindInvalidRotation, Detail: fmt.Sprintf("option %q is relabelled away but nothing maps onto it", s)}
		}
	}
	return nil
}

func (r Rotation) relabel(b byte) byte {
	if len(r.Options) == 0 {
		return b
	}
	for from, to := range r.Options {
		if len(from) == 1 && upper(from[0]) == b {
			return upper(to[0])
		}
	}
	return b
}

func (r Rotation) unrelabel(b byte) byte {
	if len(r.Options) == 0 {
		return b
	}
	for from, to := range r.Options {
		if len(to) == 1 && upper(to[0]) == b {
			return upper(from[0])
		}
	}
	return b
}

// ToCanonical reorders and relabels a booklet sheet into canonical order.
// The returned sheet carries the canonical variant name. Blank and
// multi-mark bytes are kept as they are.
func ToCanonical(sheet RawAnswerSheet, canonical string, r Rotation) RawAnswerSheet {
	out := make([]byte, len(r.Order))
	for pos, idx := range r.Order {
		if pos >= len(sheet.Answers) {
			out[idx] = MarkBlank
			continue
		}
		b := upper(sheet.Answers[pos])
		if isBlank(b) || b == MarkMulti {
			out[idx] = b
			continue
		}
		out[idx] = r.relabel(b)
	}
	return RawAnswerSheet{StudentID: sheet.StudentID, Booklet: canonical, Answers: string(out)}
}

// FromCanonical is the inverse of ToCanonical: it prints a canonical sheet as
// it would appear on the given booklet variant.
func FromCanonical(sheet RawAnswerSheet, variant string, r Rotation) RawAnswerSheet {
	out := make([]byte, len(r.Order))
	for pos, idx := range r.Order {
		if idx >= len(sheet.Answers) {
			out[pos] = MarkBlank
			continue
		}
		b := upper(sheet.Answers[idx])
		if isBlank(b) || b == MarkMulti {
			out[pos] = b
			continue
		}
		out[pos] = r.unrelabel(b)
	}
	return RawAnswerSheet{StudentID: sheet.StudentID, Booklet: variant, Answers: string(out)}
}
