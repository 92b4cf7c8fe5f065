package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/models"
	"github.com/jmylchreest/snipd/internal/progress"
)

// defaultListLimit caps job listings when the client doesn't say.
const defaultListLimit = 50

// JobsHandler handles job queries, cancellation, deletion and the
// progress event stream.
type JobsHandler struct {
	engine            *engine.Engine
	publisher         *progress.Publisher
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(eng *engine.Engine, pub *progress.Publisher, logger *slog.Logger) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{
		engine:            eng,
		publisher:         pub,
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *JobsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// GetJobInput is the input for fetching one job.
type GetJobInput struct {
	JobID string `path:"job_id" doc:"Job ID"`
}

// GetJobOutput is the output for fetching one job.
type GetJobOutput struct {
	Body models.JobSnapshot
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Limit int `query:"limit" doc:"Maximum number of jobs to return"`
}

// ListJobsBody is the response body for listing jobs.
type ListJobsBody struct {
	Jobs []models.JobSnapshot `json:"jobs"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body ListJobsBody
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	JobID string `path:"job_id" doc:"Job ID"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body models.JobSnapshot
}

// DeleteJobInput is the input for deleting a job.
type DeleteJobInput struct {
	JobID string `path:"job_id" doc:"Job ID"`
}

// DeleteJobOutput is the output for deleting a job.
type DeleteJobOutput struct {
	Status int
}

// Register registers the job routes with the API.
func (h *JobsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{job_id}",
		Summary:     "Get job",
		Description: "Returns the current state of one extraction job",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns known jobs, newest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{job_id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a queued or running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteJob",
		Method:        "DELETE",
		Path:          "/api/v1/jobs/{job_id}",
		Summary:       "Delete job",
		Description:   "Removes a finished job and releases its artifact",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Delete)
}

// RegisterSSE registers the event-stream endpoint on a chi router. This
// is separate from Register because Huma doesn't stream SSE natively.
func (h *JobsHandler) RegisterSSE(router *chi.Mux) {
	router.Get("/api/v1/jobs/{job_id}/events", h.handleEvents)
}

// Get returns one job's snapshot.
func (h *JobsHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	snap, err := h.engine.Status(input.JobID)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetJobOutput{Body: snap}, nil
}

// List returns recent jobs.
func (h *JobsHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return &ListJobsOutput{Body: ListJobsBody{Jobs: h.engine.List(limit)}}, nil
}

// Cancel cancels a job and returns its resulting snapshot.
func (h *JobsHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	if err := h.engine.Cancel(input.JobID); err != nil {
		return nil, apiError(err)
	}
	snap, err := h.engine.Status(input.JobID)
	if err != nil {
		return nil, apiError(err)
	}
	return &CancelJobOutput{Body: snap}, nil
}

// Delete removes a terminal job.
func (h *JobsHandler) Delete(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	if err := h.engine.Delete(input.JobID); err != nil {
		return nil, apiError(err)
	}
	return &DeleteJobOutput{Status: 204}, nil
}

// handleEvents streams progress updates for one job as server-sent
// events. The subscriber is primed with the job's latest state, so a
// client attaching after completion still sees the terminal event.
func (h *JobsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if _, err := h.engine.Status(jobID); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	// The job can be evicted between the status check and here; a nil
	// channel means its stream is already gone.
	subID, events := h.publisher.Subscribe(jobID)
	if events == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	defer h.publisher.Unsubscribe(jobID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case update, ok := <-events:
			if !ok {
				// Stream torn down (job evicted).
				return
			}
			if err := writeSSEEvent(w, update); err != nil {
				h.logger.Debug("writing SSE event failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if update.State.IsTerminal() {
				return
			}
		}
	}
}

// writeSSEEvent writes one update in SSE framing.
func writeSSEEvent(w http.ResponseWriter, update progress.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
