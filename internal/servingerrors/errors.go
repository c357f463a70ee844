// Package servingerrors defines the error taxonomy for the serving core.
// Every error carries a machine-readable Code that callers can test with
// errors.Is without string matching, and optionally wraps an underlying
// cause so errors.Is / errors.As chains work across package boundaries.
package servingerrors

import (
	"context"
	"errors"
	"fmt"
)

// ServingError is the single concrete error type used throughout the serving
// core.
type ServingError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ServingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServingError) Unwrap() error {
	return e.Cause
}

// Is reports equality by Code, ignoring Message and Cause, so a wrapped
// sentinel still matches errors.Is(err, ErrXxx).
func (e *ServingError) Is(target error) bool {
	var t *ServingError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors, one per error category.
var (
	// ErrConfigInvalid: unknown model family, unknown dtype, missing model
	// directory, malformed weight_map. Fatal at startup.
	ErrConfigInvalid = &ServingError{Code: "config_invalid", Message: "configuration is invalid"}

	// ErrLoadFailed: tokenizer/config/shard load failure. Fatal at startup.
	ErrLoadFailed = &ServingError{Code: "load_failed", Message: "model load failed"}

	// ErrQueueFull: enqueue rejected because the bound is reached.
	ErrQueueFull = &ServingError{Code: "queue_full", Message: "prompt queue is full"}

	// ErrGenerationFailed: backend forward failure or sampling failure.
	ErrGenerationFailed = &ServingError{Code: "generation_failed", Message: "generation failed"}

	// ErrNotFound: status/result lookup for an unknown job id.
	ErrNotFound = &ServingError{Code: "not_found", Message: "job id not found"}

	// ErrTaskJoin: blocking worker panic/abort.
	ErrTaskJoin = &ServingError{Code: "task_join_failed", Message: "background task failed"}
)

// Wrap returns a new ServingError sharing base's code and message but
// recording cause as its underlying error.
func Wrap(base *ServingError, cause error) *ServingError {
	return &ServingError{Code: base.Code, Message: base.Message, Cause: cause}
}

// Code extracts the Code field from err's chain, or "" if none is found.
func Code(err error) string {
	var se *ServingError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsTransient reports whether err is a routine per-job failure (generation
// failed or queue full). The drainer logs transient failures at Warn and all
// others at Error, and moves on to the next job in both cases. Standard
// library context errors are never transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Code(err) {
	case ErrGenerationFailed.Code, ErrQueueFull.Code:
		return true
	default:
		return false
	}
}
