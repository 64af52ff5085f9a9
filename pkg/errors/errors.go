// Package errors provides common domain error types for the bookpipe pipeline.
//
// This package defines sentinel errors for domain conditions like "not found" or
// "duplicate key" that can be used across all packages, plus the classified
// PipelineError used to report stage failures. Using typed errors enables
// consistent error handling patterns with errors.Is() checks.
//
// Usage:
//
//	import bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
//
//	// Return a domain error
//	return nil, fmt.Errorf("table books: %w", bperrors.ErrNotFound)
//
//	// Check for domain errors
//	if bperrors.IsNotFound(err) {
//	    // handle not found case
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested input, file, or table was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateKey indicates a key that must be unique appeared more than once.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDuplicateKey reports whether any error in err's chain is ErrDuplicateKey.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
