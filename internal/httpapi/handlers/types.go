// Package handlers implements the API operations for snipd.
package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/snipd/internal/models"
)

// apiError maps domain errors onto HTTP status codes.
func apiError(err error) error {
	var validation models.ErrValidation

	switch {
	case errors.Is(err, models.ErrJobNotFound):
		return huma.Error404NotFound("job not found")
	case errors.Is(err, models.ErrJobTerminal):
		return huma.Error409Conflict("job already finished", err)
	case errors.Is(err, models.ErrQueueFull):
		return huma.Error503ServiceUnavailable("job queue is full, try again later")
	case errors.Is(err, models.ErrArtifactUnavailable):
		return huma.Error410Gone("artifact is no longer available")
	case errors.Is(err, models.ErrURLRequired),
		errors.Is(err, models.ErrInvalidURL),
		errors.Is(err, models.ErrEndTimeRequired),
		errors.Is(err, models.ErrInvalidTimeRange),
		errors.Is(err, models.ErrInvalidTimecode),
		errors.Is(err, models.ErrInvalidFormat),
		errors.Is(err, models.ErrSnippetTooLong),
		errors.Is(err, models.ErrSourceTooLong),
		errors.As(err, &validation):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
