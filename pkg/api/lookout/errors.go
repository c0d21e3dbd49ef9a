package lookout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Pipeline error taxonomy. Validation and authorization failures are
// deterministic and never retried; Unavailable is safe for the client to
// retry (retries may duplicate ingested samples, an accepted tradeoff).
var (
	ErrForbidden   = errors.New("unauthorized access")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("service unavailable")
)

// ValidationError carries per-field messages for malformed input. The
// request is rejected before any side effect.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// AsValidationError unwraps err into a *ValidationError if it is one
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
