package sync

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned when a caller attempts to resolve a
// conflict owned by a different user.
var ErrPermissionDenied = errors.New("conflict owned by another user")

// ValidationError describes a malformed operation or resolution request.
// It distinguishes client input errors from state and storage failures
// so callers can map them to the right response code.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
