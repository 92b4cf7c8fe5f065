// Package tagger writes title/artist metadata into finished artifacts.
// Tagging is best-effort: a failure leaves the artifact untagged and is
// never allowed to fail the job.
package tagger

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jmylchreest/snipd/internal/models"
)

// applyTimeout bounds one tagging pass; it is a stream copy, not a transcode.
const applyTimeout = 30 * time.Second

// Tagger applies metadata to an artifact file in place.
type Tagger interface {
	Apply(ctx context.Context, path string, spec models.ExtractionSpec) error
}

// FFmpegTagger tags via an ffmpeg stream copy with -metadata flags.
type FFmpegTagger struct {
	binary string
	logger *slog.Logger
}

// NewFFmpegTagger creates a tagger using the given ffmpeg binary.
func NewFFmpegTagger(binary string, logger *slog.Logger) *FFmpegTagger {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegTagger{binary: binary, logger: logger}
}

// Apply rewrites the file with title/artist metadata. The tagged copy
// is written next to the original and renamed over it, so a failure
// mid-write leaves the original intact.
func (t *FFmpegTagger) Apply(ctx context.Context, path string, spec models.ExtractionSpec) error {
	if spec.Title == "" && spec.Artist == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	tmpPath := filepath.Join(filepath.Dir(path), ".tag-"+filepath.Base(path))
	args := []string{"-y", "-hide_banner", "-i", path, "-c", "copy"}
	if spec.Title != "" {
		args = append(args, "-metadata", "title="+spec.Title)
	}
	if spec.Artist != "" {
		args = append(args, "-metadata", "artist="+spec.Artist)
	}
	args = append(args, "-f", string(spec.Format), tmpPath)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmpPath)
		t.logger.Warn("tagging failed, artifact left untagged",
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.String("output", tail(string(out), 500)),
		)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Noop is a Tagger that does nothing. Used when ffmpeg is unavailable
// and in tests.
type Noop struct{}

// Apply implements Tagger.
func (Noop) Apply(context.Context, string, models.ExtractionSpec) error {
	return nil
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
