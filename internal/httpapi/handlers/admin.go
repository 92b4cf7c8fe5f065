package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/snipd/internal/engine"
)

// AdminHandler exposes maintenance operations.
type AdminHandler struct {
	engine *engine.Engine
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(eng *engine.Engine) *AdminHandler {
	return &AdminHandler{engine: eng}
}

// CleanupBody reports what a manual sweep removed.
type CleanupBody struct {
	EvictedJobs int `json:"evicted_jobs"`
}

// CleanupOutput is the output for a manual sweep.
type CleanupOutput struct {
	Body CleanupBody
}

// Register registers the admin routes with the API.
func (h *AdminHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "runCleanup",
		Method:      "POST",
		Path:        "/api/v1/cleanup",
		Summary:     "Run retention sweep",
		Description: "Evicts expired terminal jobs and applies the cache eviction policy immediately, without waiting for the scheduled sweep",
		Tags:        []string{"System"},
	}, h.Cleanup)
}

// Cleanup triggers one retention sweep.
func (h *AdminHandler) Cleanup(ctx context.Context, _ *struct{}) (*CleanupOutput, error) {
	return &CleanupOutput{Body: CleanupBody{EvictedJobs: h.engine.Sweep()}}, nil
}
