package screener

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSchema wraps every schema loading failure.
	ErrInvalidSchema = errors.New("invalid screener schema")
	// ErrUnknownField is returned for edits to keys the schema does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrScreenerComplete is returned for edits and navigation after the last step.
	ErrScreenerComplete = errors.New("screener already complete")
	// ErrInvalidIndex is returned when restoring a machine at an impossible position.
	ErrInvalidIndex = errors.New("invalid step index")
)

// ValidationError reports a field edit that does not fit the field's kind.
// The edit is never stored.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Key, e.Reason)
}

// IncompleteStepError reports the required, visible fields that still need a
// value before the current step can be left.
type IncompleteStepError struct {
	Step    int
	Missing []string
}

func (e *IncompleteStepError) Error() string {
	return fmt.Sprintf("step %d incomplete: missing %s", e.Step, strings.Join(e.Missing, ", "))
}
