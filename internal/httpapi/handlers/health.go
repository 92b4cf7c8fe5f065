package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/snipd/internal/cache"
	"github.com/jmylchreest/snipd/internal/database"
	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/version"
)

// HealthHandler reports service liveness and runtime detail.
type HealthHandler struct {
	engine    *engine.Engine
	store     *cache.Store
	db        *database.DB
	ytdlpPath string
	ffmpeg    string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a new health handler. Binary paths are the
// resolved yt-dlp and ffmpeg locations, empty when missing.
func NewHealthHandler(eng *engine.Engine, store *cache.Store, db *database.DB, ytdlpPath, ffmpegPath string, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		engine:    eng,
		store:     store,
		db:        db,
		ytdlpPath: ytdlpPath,
		ffmpeg:    ffmpegPath,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HealthJobs summarises engine occupancy.
type HealthJobs struct {
	Running int `json:"running"`
	Queued  int `json:"queued"`
}

// HealthCache summarises the artifact cache.
type HealthCache struct {
	Enabled bool  `json:"enabled"`
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// HealthBinaries reports external tool availability.
type HealthBinaries struct {
	Ytdlp  string `json:"yt_dlp,omitempty"`
	FFmpeg string `json:"ffmpeg,omitempty"`
}

// HealthBody is the health response.
type HealthBody struct {
	Status        string         `json:"status" enum:"ok,degraded"`
	Version       string         `json:"version"`
	Commit        string         `json:"commit,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Database      string         `json:"database"`
	Jobs          HealthJobs     `json:"jobs"`
	Cache         HealthCache    `json:"cache"`
	Binaries      HealthBinaries `json:"binaries"`
	MemoryUsedPct float64        `json:"memory_used_pct,omitempty"`
}

// HealthOutput is the output for the health check.
type HealthOutput struct {
	Body HealthBody
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.Check)
}

// Check reports service health. Missing binaries or an unreachable
// database degrade the status rather than failing the endpoint.
func (h *HealthHandler) Check(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	info := version.Get()

	body := HealthBody{
		Status:        "ok",
		Version:       info.Version,
		Commit:        info.Commit,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      "ok",
		Binaries: HealthBinaries{
			Ytdlp:  h.ytdlpPath,
			FFmpeg: h.ffmpeg,
		},
	}

	if h.ytdlpPath == "" || h.ffmpeg == "" {
		body.Status = "degraded"
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(pingCtx); err != nil {
		h.logger.Warn("database ping failed", slog.String("error", err.Error()))
		body.Status = "degraded"
		body.Database = "unreachable"
	}

	running, queued := h.engine.Counts()
	body.Jobs = HealthJobs{Running: running, Queued: queued}

	body.Cache.Enabled = h.store.Enabled()
	if h.store.Enabled() {
		count, bytes := h.store.Stats(ctx)
		body.Cache.Entries = count
		body.Cache.Bytes = bytes
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		body.MemoryUsedPct = vm.UsedPercent
	}

	return &HealthOutput{Body: body}, nil
}
