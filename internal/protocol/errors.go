package protocol

import (
	"errors"
	"fmt"
)

// ErrFormat matches every *FormatError via errors.Is.
var ErrFormat = errors.New("malformed midi64 record")

// ErrSequenceOverflow is returned when an agent's counter would leave the
// five hex digit range. It is terminal for the session prefix.
var ErrSequenceOverflow = errors.New("sequence exceeds 5 hex digit capacity")

// FormatError describes why an identifier or record was rejected.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", ErrFormat, e.Reason, e.Input)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErr(input, reason string) error {
	return &FormatError{Input: input, Reason: reason}
}
