package models

import "fmt"

// FailureKind classifies why an extraction run failed. Kinds drive the
// engine's retry decision and map onto distinct API error responses.
type FailureKind string

const (
	// FailureSourceUnavailable means the source does not exist or was removed.
	FailureSourceUnavailable FailureKind = "source_unavailable"
	// FailureAccessBlocked means the source refused access (geo block,
	// login wall, bot check). Retrying without operator action is pointless.
	FailureAccessBlocked FailureKind = "access_blocked"
	// FailureTransient means a network-style fault that may clear on retry.
	FailureTransient FailureKind = "transient"
	// FailureTimeout means the run exceeded the processing deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureCancelled means the run was cancelled on request.
	FailureCancelled FailureKind = "cancelled"
	// FailureUnknown covers everything the classifier could not place.
	FailureUnknown FailureKind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient
}

// RunError is a classified extraction failure.
type RunError struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError creates a classified run error.
func NewRunError(kind FailureKind, message string, err error) *RunError {
	return &RunError{Kind: kind, Message: message, Err: err}
}
