package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/snipd/internal/models"
	"github.com/jmylchreest/snipd/internal/runner"
)

// VideoInfoHandler probes source URLs for metadata without starting a job.
type VideoInfoHandler struct {
	probe  func(ctx context.Context, url string) (*runner.MediaInfo, error)
	logger *slog.Logger
}

// NewVideoInfoHandler creates a new video-info handler.
func NewVideoInfoHandler(probe func(ctx context.Context, url string) (*runner.MediaInfo, error), logger *slog.Logger) *VideoInfoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoInfoHandler{probe: probe, logger: logger}
}

// VideoInfoRequest is the probe request body.
type VideoInfoRequest struct {
	URL string `json:"url" doc:"Source media URL"`
}

// VideoInfoInput is the input for probing a URL.
type VideoInfoInput struct {
	Body VideoInfoRequest
}

// VideoInfoBody describes the probed source.
type VideoInfoBody struct {
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration_seconds"`
	Uploader        string  `json:"uploader,omitempty"`
	UploadDate      string  `json:"upload_date,omitempty"`
	Thumbnail       string  `json:"thumbnail,omitempty"`
	WebpageURL      string  `json:"webpage_url,omitempty"`
}

// VideoInfoOutput is the output for probing a URL.
type VideoInfoOutput struct {
	Body VideoInfoBody
}

// Register registers the video-info route with the API.
func (h *VideoInfoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVideoInfo",
		Method:      "POST",
		Path:        "/api/v1/video-info",
		Summary:     "Probe a source URL",
		Description: "Fetches title, duration and thumbnail for a source without extracting",
		Tags:        []string{"Extraction"},
	}, h.Probe)
}

// Probe fetches metadata for the given URL.
func (h *VideoInfoHandler) Probe(ctx context.Context, input *VideoInfoInput) (*VideoInfoOutput, error) {
	if input.Body.URL == "" {
		return nil, apiError(models.ErrURLRequired)
	}
	if u, err := url.Parse(input.Body.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apiError(models.ErrInvalidURL)
	}

	info, err := h.probe(ctx, input.Body.URL)
	if err != nil {
		var runErr *models.RunError
		if errors.As(err, &runErr) {
			switch runErr.Kind {
			case models.FailureSourceUnavailable:
				return nil, huma.Error404NotFound(runErr.Message)
			case models.FailureAccessBlocked:
				return nil, huma.Error403Forbidden(runErr.Message)
			case models.FailureTimeout:
				return nil, huma.Error504GatewayTimeout(runErr.Message)
			}
		}
		h.logger.Warn("probing source failed",
			slog.String("url", input.Body.URL),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error502BadGateway("probing source failed")
	}

	return &VideoInfoOutput{Body: VideoInfoBody{
		Title:           info.Title,
		DurationSeconds: info.DurationSeconds,
		Uploader:        info.Uploader,
		UploadDate:      info.UploadDate,
		Thumbnail:       info.Thumbnail,
		WebpageURL:      info.WebpageURL,
	}}, nil
}
