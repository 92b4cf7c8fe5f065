package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common errors for extraction requests and job lookups.
var (
	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrEndTimeRequired indicates a snippet request without an end time.
	ErrEndTimeRequired = errors.New("end time is required unless extracting the full source")

	// ErrInvalidTimeRange indicates end time is not after start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrInvalidTimecode indicates a time value that is not SS, MM:SS or HH:MM:SS.
	ErrInvalidTimecode = errors.New("invalid timecode: expected SS, MM:SS or HH:MM:SS")

	// ErrInvalidFormat indicates an unsupported output format.
	ErrInvalidFormat = errors.New("invalid output format: must be 'mp3', 'wav' or 'mp4'")

	// ErrSnippetTooLong indicates the requested range exceeds the snippet limit.
	ErrSnippetTooLong = errors.New("requested snippet exceeds the maximum duration")

	// ErrSourceTooLong indicates the source media exceeds the source limit.
	ErrSourceTooLong = errors.New("source media exceeds the maximum duration")

	// ErrJobNotFound indicates a job lookup by an unknown ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal indicates an operation on a job that already reached a terminal state.
	ErrJobTerminal = errors.New("job already in a terminal state")

	// ErrQueueFull indicates the admission queue has reached its limit.
	ErrQueueFull = errors.New("job queue is full")

	// ErrCacheDisabled indicates a cache operation while caching is turned off.
	ErrCacheDisabled = errors.New("cache is disabled")

	// ErrArtifactUnavailable indicates the job's artifact was evicted or never produced.
	ErrArtifactUnavailable = errors.New("artifact is not available")
)
