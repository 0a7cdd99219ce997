package shared

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state conflict, such as mutating financial
	// records on a closed work order without authorization.
	ErrConflict = errors.New("conflict")
)

// ValidationError carries the full list of business-rule violations for a
// rejected operation, not just the first one detected.
type ValidationError struct {
	Issues []string
}

// NewValidationError builds a ValidationError from issue strings.
func NewValidationError(issues ...string) *ValidationError {
	return &ValidationError{Issues: issues}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
