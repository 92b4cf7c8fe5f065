package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/snipd/internal/cache"
	"github.com/jmylchreest/snipd/internal/config"
	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/httpapi/handlers"
	"github.com/jmylchreest/snipd/internal/models"
	"github.com/jmylchreest/snipd/internal/progress"
	"github.com/jmylchreest/snipd/internal/runner"
	"github.com/jmylchreest/snipd/internal/storage"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

// testEnv wires a real engine behind the handlers with a fake run
// function, so requests exercise the full admission path.
type testEnv struct {
	engine *engine.Engine
	pub    *progress.Publisher
	router *chi.Mux

	// blockRuns, when set before setup, makes runs wait on it.
	blockRuns chan struct{}
}

func newTestEnv(t *testing.T, blockRuns chan struct{}) *testEnv {
	t.Helper()

	dir := t.TempDir()
	sandbox, err := storage.NewSandbox(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	store := cache.New(config.CacheConfig{Enabled: false}, nil, sandbox, nil)

	env := &testEnv{
		pub:       progress.NewPublisher(nil),
		blockRuns: blockRuns,
	}

	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	env.engine = engine.New(engine.Config{
		MaxConcurrentJobs: 2,
		QueueLimit:        100,
		RetryDelay:        time.Millisecond,
		ScratchDir:        scratch,
	}, env.fakeRun, nil, store, nil, env.pub, nil, nil)
	t.Cleanup(env.engine.Stop)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	env.router = chi.NewRouter()
	api := humachi.New(env.router, huma.DefaultConfig("Test API", "1.0.0"))

	extract := handlers.NewExtractHandler(env.engine)
	extract.Register(api)

	jobs := handlers.NewJobsHandler(env.engine, env.pub, logger)
	jobs.Register(api)
	jobs.RegisterSSE(env.router)

	download := handlers.NewDownloadHandler(env.engine, logger)
	download.Register(env.router)

	admin := handlers.NewAdminHandler(env.engine)
	admin.Register(api)

	return env
}

func (env *testEnv) fakeRun(ctx context.Context, spec models.ExtractionSpec, destDir string, onProgress runner.ProgressFunc) (string, error) {
	if onProgress != nil {
		onProgress(0.5, "downloading")
	}

	if env.blockRuns != nil {
		select {
		case <-env.blockRuns:
		case <-ctx.Done():
			return "", models.NewRunError(models.FailureCancelled, "extraction cancelled", ctx.Err())
		}
	}

	path := filepath.Join(destDir, "artifact."+spec.Format.Extension())
	if err := os.WriteFile(path, []byte("fake artifact"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (env *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) submit(t *testing.T, req handlers.ExtractRequest) handlers.ExtractBody {
	t.Helper()
	rec := env.do("POST", "/api/v1/extract", req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body handlers.ExtractBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func (env *testEnv) waitForState(t *testing.T, jobID string, state models.JobState) models.JobSnapshot {
	t.Helper()
	var snap models.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = env.engine.Status(jobID)
		return err == nil && snap.State == state
	}, waitFor, tick, "job %s never reached state %s", jobID, state)
	return snap
}

func validRequest() handlers.ExtractRequest {
	return handlers.ExtractRequest{
		URL:          "https://example.com/watch?v=abc",
		StartTime:    "0:10",
		EndTime:      "0:40",
		OutputFormat: "mp3",
	}
}

func TestExtractHandler_Submit(t *testing.T) {
	t.Run("accepts a valid request", func(t *testing.T) {
		env := newTestEnv(t, nil)

		body := env.submit(t, validRequest())
		assert.NotEmpty(t, body.JobID)
		assert.Equal(t, "/api/v1/jobs/"+body.JobID, body.StatusURL)
		assert.Equal(t, "/api/v1/jobs/"+body.JobID+"/events", body.EventsURL)
		assert.Equal(t, "/api/v1/download/"+body.JobID, body.DownloadURL)
	})

	t.Run("rejects missing end time", func(t *testing.T) {
		env := newTestEnv(t, nil)

		req := validRequest()
		req.EndTime = ""
		rec := env.do("POST", "/api/v1/extract", req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("rejects malformed timecodes", func(t *testing.T) {
		env := newTestEnv(t, nil)

		req := validRequest()
		req.StartTime = "1:75"
		rec := env.do("POST", "/api/v1/extract", req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("rejects unknown formats", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do("POST", "/api/v1/extract", map[string]any{
			"url":           "https://example.com/watch?v=abc",
			"end_time":      "0:30",
			"output_format": "ogg",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestJobsHandler_Get(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("returns 404 for unknown jobs", func(t *testing.T) {
		rec := env.do("GET", "/api/v1/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns the job snapshot", func(t *testing.T) {
		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		rec := env.do("GET", "/api/v1/jobs/"+submitted.JobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var snap models.JobSnapshot
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
		assert.Equal(t, submitted.JobID, snap.ID)
		assert.Equal(t, models.JobStateSucceeded, snap.State)
		assert.Equal(t, 1.0, snap.Progress)
	})
}

func TestJobsHandler_List(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.submit(t, validRequest())
	env.waitForState(t, first.JobID, models.JobStateSucceeded)

	req := validRequest()
	req.URL = "https://example.com/watch?v=def"
	second := env.submit(t, req)
	env.waitForState(t, second.JobID, models.JobStateSucceeded)

	rec := env.do("GET", "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.ListJobsBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, second.JobID, body.Jobs[0].ID)
	assert.Equal(t, first.JobID, body.Jobs[1].ID)

	rec = env.do("GET", "/api/v1/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Jobs, 1)
}

func TestJobsHandler_Cancel(t *testing.T) {
	blockRuns := make(chan struct{})
	defer close(blockRuns)
	env := newTestEnv(t, blockRuns)

	submitted := env.submit(t, validRequest())
	env.waitForState(t, submitted.JobID, models.JobStateRunning)

	rec := env.do("POST", "/api/v1/jobs/"+submitted.JobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.JobSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, models.JobStateCancelled, snap.State)

	// A second cancel hits a finished job.
	rec = env.do("POST", "/api/v1/jobs/"+submitted.JobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobsHandler_Delete(t *testing.T) {
	env := newTestEnv(t, nil)

	submitted := env.submit(t, validRequest())
	env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

	rec := env.do("DELETE", "/api/v1/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do("GET", "/api/v1/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do("DELETE", "/api/v1/jobs/"+submitted.JobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsHandler_Events(t *testing.T) {
	t.Run("returns 404 for unknown jobs", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do("GET", "/api/v1/jobs/nope/events", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("streams until the terminal event", func(t *testing.T) {
		env := newTestEnv(t, nil)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		// Attaching after completion still delivers the cached
		// terminal update, then the stream ends.
		rec := env.do("GET", "/api/v1/jobs/"+submitted.JobID+"/events", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, ":connected")
		assert.Contains(t, body, "event: progress")
		assert.Contains(t, body, fmt.Sprintf("%q", models.JobStateSucceeded))
	})

	t.Run("returns 404 when the stream is already torn down", func(t *testing.T) {
		env := newTestEnv(t, nil)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		// Eviction closes the stream; attaching afterwards must not
		// resurrect it and hang the client on heartbeats.
		env.pub.CloseJob(submitted.JobID)

		rec := env.do("GET", "/api/v1/jobs/"+submitted.JobID+"/events", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, 0, env.pub.SubscriberCount(submitted.JobID))
	})
}

func TestDownloadHandler(t *testing.T) {
	t.Run("returns 404 for unknown jobs", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do("GET", "/api/v1/download/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 410 before the job finishes", func(t *testing.T) {
		blockRuns := make(chan struct{})
		defer close(blockRuns)
		env := newTestEnv(t, blockRuns)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateRunning)

		rec := env.do("GET", "/api/v1/download/"+submitted.JobID, nil)
		assert.Equal(t, http.StatusGone, rec.Code)
	})

	t.Run("streams the finished artifact", func(t *testing.T) {
		env := newTestEnv(t, nil)

		req := validRequest()
		req.Filename = "my clip"
		submitted := env.submit(t, req)
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		rec := env.do("GET", "/api/v1/download/"+submitted.JobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "fake artifact", rec.Body.String())
		assert.Equal(t, `attachment; filename="my clip.mp3"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("returns 404 after the job is deleted", func(t *testing.T) {
		env := newTestEnv(t, nil)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		rec := env.do("DELETE", "/api/v1/jobs/"+submitted.JobID, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do("GET", "/api/v1/download/"+submitted.JobID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminHandler_Cleanup(t *testing.T) {
	t.Run("evicts expired terminal jobs", func(t *testing.T) {
		env := newTestEnv(t, nil)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateSucceeded)

		// Retention is zero, so a finished job ages out on the next sweep.
		rec := env.do("POST", "/api/v1/cleanup", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body handlers.CleanupBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 1, body.EvictedJobs)

		rec = env.do("GET", "/api/v1/jobs/"+submitted.JobID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("keeps live jobs", func(t *testing.T) {
		blockRuns := make(chan struct{})
		defer close(blockRuns)
		env := newTestEnv(t, blockRuns)

		submitted := env.submit(t, validRequest())
		env.waitForState(t, submitted.JobID, models.JobStateRunning)

		rec := env.do("POST", "/api/v1/cleanup", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body handlers.CleanupBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 0, body.EvictedJobs)

		rec = env.do("GET", "/api/v1/jobs/"+submitted.JobID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func newVideoInfoRouter(probe func(ctx context.Context, url string) (*runner.MediaInfo, error)) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewVideoInfoHandler(probe, logger).Register(api)
	return router
}

func TestVideoInfoHandler(t *testing.T) {
	postInfo := func(router *chi.Mux, url string) *httptest.ResponseRecorder {
		data, _ := json.Marshal(handlers.VideoInfoRequest{URL: url})
		req := httptest.NewRequest("POST", "/api/v1/video-info", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("returns probed metadata", func(t *testing.T) {
		router := newVideoInfoRouter(func(ctx context.Context, url string) (*runner.MediaInfo, error) {
			return &runner.MediaInfo{Title: "Test Video", DurationSeconds: 125.5}, nil
		})

		rec := postInfo(router, "https://example.com/watch?v=abc")
		require.Equal(t, http.StatusOK, rec.Code)

		var body handlers.VideoInfoBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "Test Video", body.Title)
		assert.Equal(t, 125.5, body.DurationSeconds)
	})

	t.Run("rejects empty and non-http URLs", func(t *testing.T) {
		router := newVideoInfoRouter(func(ctx context.Context, url string) (*runner.MediaInfo, error) {
			t.Fatal("probe should not be called")
			return nil, nil
		})

		rec := postInfo(router, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = postInfo(router, "ftp://example.com/file")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("maps failure kinds to status codes", func(t *testing.T) {
		tests := []struct {
			kind models.FailureKind
			want int
		}{
			{models.FailureSourceUnavailable, http.StatusNotFound},
			{models.FailureAccessBlocked, http.StatusForbidden},
			{models.FailureTimeout, http.StatusGatewayTimeout},
			{models.FailureUnknown, http.StatusBadGateway},
		}

		for _, tt := range tests {
			router := newVideoInfoRouter(func(ctx context.Context, url string) (*runner.MediaInfo, error) {
				return nil, models.NewRunError(tt.kind, "probe failed", nil)
			})
			rec := postInfo(router, "https://example.com/watch?v=abc")
			assert.Equal(t, tt.want, rec.Code, "kind %s", tt.kind)
		}
	})
}
