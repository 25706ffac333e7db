package scoring

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("scoring validation failed")

// ErrorKind classifies a ValidationError.
type ErrorKind string

const (
	KindLengthMismatch  ErrorKind = "length_mismatch"
	KindUnknownBooklet  ErrorKind = "unknown_booklet"
	KindInvalidRotation ErrorKind = "invalid_rotation"
	KindInvalidMark     ErrorKind = "invalid_mark"
	KindInvalidKey      ErrorKind = "invalid_key"
	KindInvalidPolicy   ErrorKind = "invalid_policy"
)

// ValidationError is returned for malformed sheets, keys, rotations or policies.
type ValidationError struct {
	Kind     ErrorKind `json:"kind"`
	Booklet  string    `json:"booklet,omitempty"`
	Position int       `json:"position,omitempty"`
	Expected int       `json:"expected,omitempty"`
	Got      int       `json:"got,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindLengthMismatch:
		return fmt.Sprintf("sheet length %d does not match key length %d", e.Got, e.Expected)
	case KindUnknownBooklet:
		return fmt.Sprintf("booklet %q has no rotation entry", e.Booklet)
	case KindInvalidMark:
		return fmt.Sprintf("invalid mark at position %d: %s", e.Position, e.Detail)
	default:
		if e.Booklet != "" {
			return fmt.Sprintf("%s (booklet %q): %s", e.Kind, e.Booklet, e.Detail)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// Is lets callers test with errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AsValidation extracts a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
