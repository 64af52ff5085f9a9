package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrMissingSource       ErrorCode = "missing_source"
	ErrMalformedField      ErrorCode = "malformed_field"
	ErrInsufficientSupport ErrorCode = "insufficient_support"
	ErrJoinAmbiguity       ErrorCode = "join_ambiguity"
	ErrContextCancelled    ErrorCode = "context_cancelled"
	ErrProcessingError     ErrorCode = "processing_error"
)

// PipelineError is a structured error for pipeline failures.
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewMissingSource reports that a stage could not find a required input.
func NewMissingSource(stage, source string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrMissingSource,
		Stage:   stage,
		Message: fmt.Sprintf("required source %s is missing", source),
		Cause:   cause,
	}
}

// NewJoinAmbiguity reports a duplicated identity key on one side of a join.
func NewJoinAmbiguity(stage, side, key string) *PipelineError {
	return &PipelineError{
		Code:    ErrJoinAmbiguity,
		Stage:   stage,
		Message: fmt.Sprintf("identity key %q appears more than once in %s", key, side),
		Cause:   ErrDuplicateKey,
	}
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// If the error doesn't match any known pattern, it returns a PipelineError with ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		if existing.Stage == "" {
			existing.Stage = stage
		}
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrContextCancelled
		pe.Message = "run aborted"
		return pe
	}

	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNotFound) {
		pe.Code = ErrMissingSource
		pe.Message = err.Error()
		return pe
	}

	if errors.Is(err, ErrDuplicateKey) {
		pe.Code = ErrJoinAmbiguity
		pe.Message = err.Error()
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	// Store drivers report absent upstream tables as text only.
	if strings.Contains(lower, "no such table") || (strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")) {
		pe.Code = ErrMissingSource
		pe.Message = msg
		return pe
	}

	pe.Code = ErrProcessingError
	pe.Message = msg
	return pe
}

// IsMissingSource returns true if the error is a missing-source failure.
func IsMissingSource(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrMissingSource
	}
	return false
}

// IsJoinAmbiguity returns true if the error is a duplicate-key join failure.
func IsJoinAmbiguity(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrJoinAmbiguity
	}
	return false
}

// IsFatal returns true if the error must stop every downstream stage.
// This function checks the error code using the ErrorCodeRegistry.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if info, ok := ErrorCodeRegistry[pe.Code]; ok {
			return info.Fatal
		}
		return true
	}
	return err != nil
}
