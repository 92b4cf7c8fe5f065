package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/models"
)

// ExtractHandler handles extraction submissions.
type ExtractHandler struct {
	engine *engine.Engine
}

// NewExtractHandler creates a new extract handler.
func NewExtractHandler(eng *engine.Engine) *ExtractHandler {
	return &ExtractHandler{engine: eng}
}

// ExtractRequest is the submission body.
type ExtractRequest struct {
	URL          string `json:"url" doc:"Source media URL"`
	StartTime    string `json:"start_time,omitempty" doc:"Range start as SS, MM:SS or HH:MM:SS (default 0)"`
	EndTime      string `json:"end_time,omitempty" doc:"Range end; required unless extract_full"`
	ExtractFull  bool   `json:"extract_full,omitempty" doc:"Extract the entire source"`
	OutputFormat string `json:"output_format" enum:"mp3,wav,mp4" doc:"Artifact format"`
	Quality      string `json:"quality,omitempty" doc:"Audio bitrate, e.g. 192k"`
	Title        string `json:"title,omitempty" doc:"Metadata title"`
	Artist       string `json:"artist,omitempty" doc:"Metadata artist"`
	Filename     string `json:"filename,omitempty" doc:"Suggested download filename"`
}

// ExtractInput is the input for submitting an extraction.
type ExtractInput struct {
	Body ExtractRequest
}

// ExtractBody is the response body for a submission.
type ExtractBody struct {
	JobID       string          `json:"job_id"`
	State       models.JobState `json:"state"`
	Progress    float64         `json:"progress"`
	StatusURL   string          `json:"status_url"`
	EventsURL   string          `json:"events_url"`
	DownloadURL string          `json:"download_url"`
}

// ExtractOutput is the output for submitting an extraction.
type ExtractOutput struct {
	Status int
	Body   ExtractBody
}

// Register registers the extract route with the API.
func (h *ExtractHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitExtraction",
		Method:        "POST",
		Path:          "/api/v1/extract",
		Summary:       "Submit an extraction",
		Description:   "Queues a snippet extraction. Identical in-flight or cached requests are coalesced.",
		Tags:          []string{"Extraction"},
		DefaultStatus: 202,
	}, h.Submit)
}

// Submit parses the request into a spec and admits it to the engine.
func (h *ExtractHandler) Submit(ctx context.Context, input *ExtractInput) (*ExtractOutput, error) {
	spec, err := specFromRequest(input.Body)
	if err != nil {
		return nil, apiError(err)
	}

	snap, err := h.engine.Submit(ctx, spec)
	if err != nil {
		return nil, apiError(err)
	}

	return &ExtractOutput{
		Status: 202,
		Body: ExtractBody{
			JobID:       snap.ID,
			State:       snap.State,
			Progress:    snap.Progress,
			StatusURL:   fmt.Sprintf("/api/v1/jobs/%s", snap.ID),
			EventsURL:   fmt.Sprintf("/api/v1/jobs/%s/events", snap.ID),
			DownloadURL: fmt.Sprintf("/api/v1/download/%s", snap.ID),
		},
	}, nil
}

// specFromRequest converts the wire request into an ExtractionSpec,
// parsing the time range.
func specFromRequest(req ExtractRequest) (models.ExtractionSpec, error) {
	spec := models.ExtractionSpec{
		URL:         req.URL,
		ExtractFull: req.ExtractFull,
		Format:      models.OutputFormat(req.OutputFormat),
		Quality:     req.Quality,
		Title:       req.Title,
		Artist:      req.Artist,
		Filename:    req.Filename,
	}

	if req.StartTime != "" {
		start, err := models.ParseTimecode(req.StartTime)
		if err != nil {
			return models.ExtractionSpec{}, err
		}
		spec.StartSeconds = start
	}
	if req.EndTime != "" {
		end, err := models.ParseTimecode(req.EndTime)
		if err != nil {
			return models.ExtractionSpec{}, err
		}
		spec.EndSeconds = end
	}

	return spec, nil
}
