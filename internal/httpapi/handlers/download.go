package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/models"
)

// DownloadHandler streams finished artifacts to clients.
type DownloadHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(eng *engine.Engine, logger *slog.Logger) *DownloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadHandler{engine: eng, logger: logger}
}

// Register registers the download route on a chi router. This bypasses
// Huma so large files stream straight off disk with range support.
func (h *DownloadHandler) Register(router *chi.Mux) {
	router.Get("/api/v1/download/{job_id}", h.handleDownload)
}

func (h *DownloadHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	ref, delivery, err := h.engine.Artifact(jobID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, models.ErrArtifactUnavailable):
			http.Error(w, "artifact is no longer available", http.StatusGone)
		default:
			h.logger.Error("opening artifact failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	defer delivery.Close()

	snap, err := h.engine.Status(jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	filename := ref.Filename
	if filename == "" {
		filename = "snippet." + snap.Format.Extension()
	}

	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(filename))
	w.Header().Set("Content-Length", strconv.FormatInt(ref.SizeBytes, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	modTime := time.Time{}
	if info, statErr := delivery.File.Stat(); statErr == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, "", modTime, delivery.File)
}

// contentDisposition builds an attachment header carrying both an ASCII
// fallback and the UTF-8 original per RFC 6266.
func contentDisposition(filename string) string {
	ascii := asciiFold(filename)
	if ascii == filename {
		return fmt.Sprintf("attachment; filename=%q", filename)
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s",
		ascii, url.PathEscape(filename))
}

// asciiFold strips diacritics and replaces any remaining non-ASCII
// runes with underscores.
func asciiFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	out := make([]rune, 0, len(folded))
	for _, r := range folded {
		if r > unicode.MaxASCII || r < 0x20 || r == '"' || r == '\\' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
