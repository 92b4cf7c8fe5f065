// Package runner supervises the external extraction processes: yt-dlp
// fetches the source into a private working directory, ffmpeg cuts and
// converts it. The runner owns the working directory and removes it on
// every exit path; the finished artifact is moved out before cleanup.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/snipd/internal/models"
)

// Progress fractions for the two stages. Download covers the first
// span, conversion the second, with the tail reserved for publishing.
const (
	downloadStart = 0.05
	downloadEnd   = 0.70
	convertEnd    = 0.95
)

// killWaitDelay is how long Wait allows the process group to die after
// a kill before giving up on its pipes.
const killWaitDelay = 5 * time.Second

// Options configures the runner.
type Options struct {
	YtdlpPath    string
	FFmpegPath   string
	ProxyURL     string `masq:"secret"`
	CookiesFile  string `masq:"secret"`
	Timeout      time.Duration
	Threads      int
	AudioBitrate string
}

// ProgressFunc receives progress observations during a run.
// The fraction is in [0,1]; callers must tolerate repeats.
type ProgressFunc func(fraction float64, message string)

// Runner executes extractions.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Runner. Binary paths in opts must already be resolved.
func New(opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "192k"
	}
	return &Runner{opts: opts, logger: logger}
}

// Run performs one extraction: download, then cut/convert. On success
// the artifact is moved to destDir and its absolute path returned; the
// working directory is removed regardless of outcome. Failures are
// returned as *models.RunError.
func (r *Runner) Run(ctx context.Context, spec models.ExtractionSpec, destDir string, onProgress ProgressFunc) (string, error) {
	if onProgress == nil {
		onProgress = func(float64, string) {}
	}

	workDir := filepath.Join(destDir, "work-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return "", models.NewRunError(models.FailureUnknown, "creating working directory", err)
	}
	defer os.RemoveAll(workDir)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	onProgress(downloadStart, "downloading")
	sourcePath, err := r.download(runCtx, spec, workDir, onProgress)
	if err != nil {
		return "", r.asRunError(ctx, runCtx, err)
	}

	onProgress(downloadEnd, "converting")
	outputPath, err := r.convert(runCtx, spec, sourcePath, workDir, onProgress)
	if err != nil {
		return "", r.asRunError(ctx, runCtx, err)
	}

	onProgress(convertEnd, "publishing")
	finalPath := filepath.Join(destDir, uuid.NewString()+"."+spec.Format.Extension())
	if err := os.Rename(outputPath, finalPath); err != nil {
		return "", models.NewRunError(models.FailureUnknown, "moving artifact out of working directory", err)
	}
	return finalPath, nil
}

// asRunError maps a stage failure onto the error taxonomy, giving
// cancellation and timeout precedence over whatever the process printed.
func (r *Runner) asRunError(ctx, runCtx context.Context, err error) error {
	var runErr *models.RunError
	if ctx.Err() != nil {
		return models.NewRunError(models.FailureCancelled, "extraction cancelled", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.NewRunError(models.FailureTimeout,
			fmt.Sprintf("extraction exceeded %s", r.opts.Timeout), runCtx.Err())
	}
	if errors.As(err, &runErr) {
		return runErr
	}
	return models.NewRunError(models.FailureUnknown, err.Error(), err)
}

// downloadProgressPattern matches yt-dlp's "[download]  42.3% of ..." lines.
var downloadProgressPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// download fetches the source into workDir via yt-dlp.
func (r *Runner) download(ctx context.Context, spec models.ExtractionSpec, workDir string, onProgress ProgressFunc) (string, error) {
	format := "bestaudio/best"
	if !spec.Format.IsAudio() {
		format = "best[ext=mp4]/best"
	}

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"-f", format,
		"-o", filepath.Join(workDir, "source.%(ext)s"),
	}
	if r.opts.ProxyURL != "" {
		args = append(args, "--proxy", r.opts.ProxyURL)
	}
	if r.opts.CookiesFile != "" {
		args = append(args, "--cookies", r.opts.CookiesFile)
	}
	args = append(args, spec.URL)

	stderr, err := r.runCommand(ctx, r.opts.YtdlpPath, args, workDir, func(line string) {
		if m := downloadProgressPattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				fraction := downloadStart + (downloadEnd-downloadStart)*pct/100
				onProgress(fraction, "downloading")
			}
		}
	})
	if err != nil {
		return "", classify(stderr, err)
	}

	matches, err := filepath.Glob(filepath.Join(workDir, "source.*"))
	if err != nil || len(matches) == 0 {
		return "", models.NewRunError(models.FailureUnknown, "download produced no file", err)
	}
	return matches[0], nil
}

// convert cuts the requested range out of the source and transcodes it
// into the output format, reading ffmpeg's -progress key=value stream.
func (r *Runner) convert(ctx context.Context, spec models.ExtractionSpec, sourcePath, workDir string, onProgress ProgressFunc) (string, error) {
	outputPath := filepath.Join(workDir, "output."+spec.Format.Extension())

	args := []string{"-y", "-hide_banner", "-nostats", "-i", sourcePath}
	if !spec.ExtractFull {
		args = append(args,
			"-ss", strconv.Itoa(spec.StartSeconds),
			"-t", strconv.Itoa(spec.EndSeconds-spec.StartSeconds),
		)
	}

	bitrate := spec.Quality
	if bitrate == "" {
		bitrate = r.opts.AudioBitrate
	}
	switch spec.Format {
	case models.FormatMP3:
		args = append(args, "-vn", "-acodec", "libmp3lame", "-b:a", bitrate)
	case models.FormatWAV:
		args = append(args, "-vn", "-acodec", "pcm_s16le")
	case models.FormatMP4:
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-c:a", "aac", "-movflags", "+faststart")
	}
	if r.opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(r.opts.Threads))
	}
	args = append(args, "-progress", "pipe:1", outputPath)

	totalUS := int64(spec.SnippetDuration() / time.Microsecond)
	parser := newProgressParser(totalUS, func(fraction float64) {
		mapped := downloadEnd + (convertEnd-downloadEnd)*fraction
		onProgress(mapped, "converting")
	})

	stderr, err := r.runCommand(ctx, r.opts.FFmpegPath, args, workDir, parser.feed)
	if err != nil {
		return "", classify(stderr, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return "", models.NewRunError(models.FailureUnknown, "conversion produced no output", err)
	}
	return outputPath, nil
}

// runCommand starts the binary in its own process group, feeds stdout
// lines to onLine, and returns the captured stderr tail alongside any
// exit error. Cancellation kills the entire group so helper processes
// spawned by yt-dlp die with it.
func (r *Runner) runCommand(ctx context.Context, binary string, args []string, workDir string, onLine func(string)) (*stderrTail, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	tail := newStderrTail()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", filepath.Base(binary), err)
	}

	r.logger.Debug("process started",
		slog.String("binary", filepath.Base(binary)),
		slog.Int("pid", cmd.Process.Pid),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, onLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, tail.add)
	}()

	// Reap the process before joining the scanners: Wait closes the
	// pipes once the child is gone (bounded by WaitDelay), so a stray
	// helper process holding them open cannot block the scan forever.
	waitErr := cmd.Wait()
	wg.Wait()

	if waitErr != nil {
		return tail, fmt.Errorf("%s: %w", filepath.Base(binary), waitErr)
	}
	return tail, nil
}

// scanLines reads r line by line. Long lines are split rather than
// aborting the scan.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

// progressParser consumes ffmpeg's -progress pipe:1 key=value stream
// and emits a monotonic fraction of totalUS microseconds.
type progressParser struct {
	totalUS int64
	best    float64
	emit    func(fraction float64)
}

func newProgressParser(totalUS int64, emit func(float64)) *progressParser {
	return &progressParser{totalUS: totalUS, emit: emit}
}

// feed handles one line. Unknown keys and malformed values are ignored;
// a fraction lower than one already emitted is absorbed.
func (p *progressParser) feed(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_ms", "out_time_us": // both report microseconds
		if p.totalUS <= 0 {
			return
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		fraction := float64(us) / float64(p.totalUS)
		if fraction > 1 {
			fraction = 1
		}
		if fraction > p.best {
			p.best = fraction
			p.emit(fraction)
		}
	case "progress":
		if value == "end" && p.best < 1 {
			p.best = 1
			p.emit(1)
		}
	}
}

// stderrTailMaxLines bounds the retained stderr for classification.
const stderrTailMaxLines = 100

// stderrTail keeps the last lines a process wrote to stderr.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
}

func newStderrTail() *stderrTail {
	return &stderrTail{}
}

func (t *stderrTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailMaxLines {
		t.lines = t.lines[len(t.lines)-stderrTailMaxLines:]
	}
}

// String returns the retained lines joined with newlines.
func (t *stderrTail) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
