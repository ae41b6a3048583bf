package params

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel every ValidationError matches with errors.Is.
var ErrValidation = errors.New("input validation failed")

// ValidationError reports a parameter that could not be resolved.
type ValidationError struct {
	Stage  string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("stage %q: parameter %q: %s", e.Stage, e.Param, e.Reason)
}

// Unwrap makes every ValidationError match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
