// Package apperr defines the error taxonomy shared by the dispatch core.
// Boundaries (HTTP handlers, WS message handlers) classify with errors.Is
// and never leak internal detail past a generic message.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing caller input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated marks a request with no usable principal.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUnauthorized marks an authenticated principal with an
	// insufficient role.
	ErrUnauthorized = errors.New("not authorized")
	// ErrNotFound marks a reference to a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a rejected state transition, e.g. dispatching an
	// ambulance that is no longer available.
	ErrConflict = errors.New("conflict")
)

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with the entity kind and id.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Conflictf wraps ErrConflict with the rejected transition.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}
