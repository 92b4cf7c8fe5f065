package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/jmylchreest/snipd/internal/models"
)

// probeTimeout bounds a metadata probe; probing never downloads media.
const probeTimeout = 30 * time.Second

// MediaInfo is the metadata yt-dlp reports for a source.
type MediaInfo struct {
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration"`
	Uploader        string  `json:"uploader"`
	UploadDate      string  `json:"upload_date"`
	Thumbnail       string  `json:"thumbnail"`
	WebpageURL      string  `json:"webpage_url"`
}

// Probe fetches source metadata without downloading, via `yt-dlp -J`.
// Failures are classified the same way as extraction failures.
func (r *Runner) Probe(ctx context.Context, url string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		"--skip-download",
	}
	if r.opts.ProxyURL != "" {
		args = append(args, "--proxy", r.opts.ProxyURL)
	}
	if r.opts.CookiesFile != "" {
		args = append(args, "--cookies", r.opts.CookiesFile)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, r.opts.YtdlpPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := newStderrTail()
		tail.add(stderr.String())
		return nil, classify(tail, fmt.Errorf("probing source: %w", err))
	}

	var info MediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, models.NewRunError(models.FailureUnknown, "parsing probe output", err)
	}
	return &info, nil
}
