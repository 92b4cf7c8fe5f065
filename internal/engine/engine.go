// Package engine orchestrates extraction jobs: admission under a
// concurrency ceiling with FIFO queueing, deduplication of identical
// requests onto a single execution, cancellation, retention, and the
// wiring between runner, cache, tagger and progress publisher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/snipd/internal/cache"
	"github.com/jmylchreest/snipd/internal/database"
	"github.com/jmylchreest/snipd/internal/models"
	"github.com/jmylchreest/snipd/internal/progress"
	"github.com/jmylchreest/snipd/internal/runner"
	"github.com/jmylchreest/snipd/internal/tagger"
)

// RunFunc executes one extraction and returns the artifact path.
// Production wires *runner.Runner.Run; tests inject fakes.
type RunFunc func(ctx context.Context, spec models.ExtractionSpec, destDir string, onProgress runner.ProgressFunc) (string, error)

// ProbeFunc fetches source metadata. May be nil to disable probing.
type ProbeFunc func(ctx context.Context, url string) (*runner.MediaInfo, error)

// Config holds engine tuning.
type Config struct {
	// MaxConcurrentJobs is the ceiling on simultaneously running
	// executions. Admissions beyond it queue FIFO.
	MaxConcurrentJobs  int
	QueueLimit         int
	RetryDelay         time.Duration
	JobRetention       time.Duration
	MaxSourceDuration  time.Duration
	MaxSnippetDuration time.Duration
	// ScratchDir is where runs place finished artifacts before the
	// cache consumes them.
	ScratchDir string
	// SweepCron schedules retention/eviction sweeps (6-field cron).
	SweepCron string
}

// jobEntry tracks one submission.
type jobEntry struct {
	job  *models.Job
	exec *execution // nil once there is no in-flight execution behind the job
}

// execution is the single unit of work shared by all jobs whose specs
// fingerprint the same.
type execution struct {
	fingerprint string
	spec        models.ExtractionSpec
	jobs        []*models.Job
	cancel      context.CancelFunc // set at admission
	cancelled   bool               // all handles cancelled; must not run
	admitted    bool
}

// Engine is the job engine.
type Engine struct {
	cfg    Config
	run    RunFunc
	probe  ProbeFunc
	cache  *cache.Store
	tagger tagger.Tagger
	pub    *progress.Publisher
	db     *database.DB // job history audit; may be nil
	logger *slog.Logger

	// mu is the single admission/completion mutex: every transition of
	// the job table, the queue and the dedup index happens under it.
	mu    sync.Mutex
	sem   *semaphore.Weighted
	jobs  map[string]*jobEntry
	execs map[string]*execution
	queue []*execution

	cron       *cron.Cron
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// New creates an engine. run must be non-nil; probe, db may be nil.
func New(cfg Config, run RunFunc, probe ProbeFunc, store *cache.Store, tag tagger.Tagger, pub *progress.Publisher, db *database.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tag == nil {
		tag = tagger.Noop{}
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.QueueLimit < 1 {
		cfg.QueueLimit = 100
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		run:        run,
		probe:  probe,
		cache:  store,
		tagger: tag,
		pub:    pub,
		db:     db,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		jobs:   make(map[string]*jobEntry),
		execs:  make(map[string]*execution),
	}
}

// Start begins background sweeps. Stop must be called on shutdown.
func (e *Engine) Start() {
	if e.cfg.SweepCron != "" {
		e.cron = cron.New(cron.WithSeconds())
		_, err := e.cron.AddFunc(e.cfg.SweepCron, func() { e.Sweep() })
		if err != nil {
			e.logger.Error("invalid sweep schedule", slog.String("cron", e.cfg.SweepCron), slog.String("error", err.Error()))
		} else {
			e.cron.Start()
		}
	}
}

// Stop cancels running executions and waits for them to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if e.cron != nil {
		e.cron.Stop()
	}
	if e.baseCancel != nil {
		e.baseCancel()
	}
	e.wg.Wait()
}

// Submit validates a request and admits it. Identical in-flight requests
// share one execution; a cached artifact completes the job immediately
// without running anything.
func (e *Engine) Submit(ctx context.Context, spec models.ExtractionSpec) (models.JobSnapshot, error) {
	if err := spec.Validate(e.cfg.MaxSnippetDuration); err != nil {
		return models.JobSnapshot{}, err
	}

	// Best-effort probe: enforce the source duration limit and default
	// the title. Probe failures do not block submission; the run itself
	// surfaces real source errors.
	if e.probe != nil && e.cfg.MaxSourceDuration > 0 {
		if info, err := e.probe(ctx, spec.URL); err == nil {
			if info.DurationSeconds > e.cfg.MaxSourceDuration.Seconds() {
				return models.JobSnapshot{}, models.ErrSourceTooLong
			}
			if spec.Title == "" {
				spec.Title = info.Title
			}
		}
	}

	fingerprint := spec.Fingerprint()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return models.JobSnapshot{}, errors.New("engine is shut down")
	}

	// Cache hit: the job succeeds without an execution.
	if ref, ok := e.cache.Lookup(ctx, fingerprint); ok {
		job := models.NewJob(spec)
		ref.Filename = spec.SuggestedFilename()
		_ = job.MarkSucceeded(ref)
		e.jobs[job.ID.String()] = &jobEntry{job: job}
		e.publishLocked(job)
		e.recordHistory(job)
		e.logger.Info("job served from cache",
			slog.String("job_id", job.ID.String()),
			slog.String("fingerprint", fingerprint),
		)
		return job.Snapshot(), nil
	}

	// In-flight duplicate: attach a new handle to the execution.
	if exec, ok := e.execs[fingerprint]; ok && !exec.cancelled {
		job := models.NewJob(spec)
		if exec.admitted {
			_ = job.MarkRunning()
			// Adopt the progress its siblings already reached.
			if len(exec.jobs) > 0 {
				job.SetProgress(exec.jobs[0].Progress, exec.jobs[0].Message)
			}
		}
		exec.jobs = append(exec.jobs, job)
		e.jobs[job.ID.String()] = &jobEntry{job: job, exec: exec}
		e.publishLocked(job)
		e.logger.Info("job joined in-flight execution",
			slog.String("job_id", job.ID.String()),
			slog.String("fingerprint", fingerprint),
		)
		return job.Snapshot(), nil
	}

	if len(e.queue) >= e.cfg.QueueLimit {
		return models.JobSnapshot{}, models.ErrQueueFull
	}

	job := models.NewJob(spec)
	exec := &execution{
		fingerprint: fingerprint,
		spec:        spec,
		jobs:        []*models.Job{job},
	}
	e.execs[fingerprint] = exec
	e.jobs[job.ID.String()] = &jobEntry{job: job, exec: exec}
	e.queue = append(e.queue, exec)
	e.publishLocked(job)
	e.logger.Info("job queued",
		slog.String("job_id", job.ID.String()),
		slog.String("fingerprint", fingerprint),
	)

	e.dispatchLocked()
	return job.Snapshot(), nil
}

// dispatchLocked admits queued executions while ceiling slots are free.
// Callers hold e.mu.
func (e *Engine) dispatchLocked() {
	for len(e.queue) > 0 && e.sem.TryAcquire(1) {
		exec := e.queue[0]
		e.queue = e.queue[1:]

		if exec.cancelled {
			// Cancelled while queued: never runs.
			e.sem.Release(1)
			continue
		}

		exec.admitted = true
		execCtx, cancel := context.WithCancel(e.baseCtx)
		exec.cancel = cancel

		for _, job := range exec.jobs {
			if !job.IsTerminal() {
				_ = job.MarkRunning()
				e.publishLocked(job)
			}
		}

		e.wg.Add(1)
		go e.runExecution(execCtx, exec)
	}
}

// runExecution performs the extraction for one execution, retrying a
// transient failure once, then settles all attached jobs.
func (e *Engine) runExecution(ctx context.Context, exec *execution) {
	defer e.wg.Done()

	onProgress := func(fraction float64, message string) {
		e.mu.Lock()
		for _, job := range exec.jobs {
			if !job.IsTerminal() {
				job.SetProgress(fraction, message)
				e.publishLocked(job)
			}
		}
		e.mu.Unlock()
	}

	var (
		artifactPath string
		err          error
	)
	for attempt := 0; ; attempt++ {
		artifactPath, err = e.run(ctx, exec.spec, e.cfg.ScratchDir, onProgress)
		if err == nil || ctx.Err() != nil {
			break
		}

		var runErr *models.RunError
		if attempt == 0 && errors.As(err, &runErr) && runErr.Kind.Retryable() {
			e.logger.Warn("transient failure, retrying once",
				slog.String("fingerprint", exec.fingerprint),
				slog.String("error", runErr.Error()),
			)
			select {
			case <-time.After(e.cfg.RetryDelay):
				continue
			case <-ctx.Done():
			}
		}
		break
	}

	var ref *models.ArtifactRef
	if err == nil {
		if e.abandoned(exec) {
			// Every handle went terminal while the run finished; nothing
			// will ever reference the artifact, so drop it instead of
			// publishing a transient file no eviction path reaps.
			if rmErr := os.Remove(artifactPath); rmErr != nil && !os.IsNotExist(rmErr) {
				e.logger.Warn("removing abandoned artifact",
					slog.String("path", artifactPath),
					slog.String("error", rmErr.Error()),
				)
			}
		} else {
			ref, err = e.publishArtifact(ctx, exec, artifactPath)
		}
	}

	e.finishExecution(exec, ref, err)
}

// abandoned reports whether every job attached to the execution is
// already terminal. Submit never attaches to a cancelled execution, so
// once true this cannot revert.
func (e *Engine) abandoned(exec *execution) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, job := range exec.jobs {
		if !job.IsTerminal() {
			return false
		}
	}
	return true
}

// publishArtifact tags the artifact and hands it to the cache. A cache
// write failure degrades to a transient artifact rather than failing
// the job.
func (e *Engine) publishArtifact(ctx context.Context, exec *execution, artifactPath string) (*models.ArtifactRef, error) {
	if tagErr := e.tagger.Apply(ctx, artifactPath, exec.spec); tagErr != nil {
		e.logger.Warn("metadata tagging failed, serving untagged artifact",
			slog.String("fingerprint", exec.fingerprint),
			slog.String("error", tagErr.Error()),
		)
	}

	filename := exec.spec.SuggestedFilename()
	contentType := exec.spec.Format.ContentType()

	ref, err := e.cache.Commit(ctx, exec.fingerprint, artifactPath, filename, contentType)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, models.ErrCacheDisabled) {
		e.logger.Warn("cache write failed, serving transient artifact",
			slog.String("fingerprint", exec.fingerprint),
			slog.String("error", err.Error()),
		)
	}

	ref, err = e.cache.PublishTransient(exec.fingerprint, artifactPath, filename, contentType)
	if err != nil {
		return nil, models.NewRunError(models.FailureUnknown, "publishing artifact", err)
	}
	return ref, nil
}

// finishExecution settles every attached job, releases the ceiling slot
// and admits the next queued execution. Completion-triggered admission
// keeps the pool work-conserving.
func (e *Engine) finishExecution(exec *execution, ref *models.ArtifactRef, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.execs[exec.fingerprint] == exec {
		delete(e.execs, exec.fingerprint)
	}

	for _, job := range exec.jobs {
		if job.IsTerminal() {
			continue
		}
		switch {
		case err == nil:
			_ = job.MarkSucceeded(ref)
		default:
			var runErr *models.RunError
			if !errors.As(err, &runErr) {
				runErr = models.NewRunError(models.FailureUnknown, err.Error(), err)
			}
			if runErr.Kind == models.FailureCancelled {
				_ = job.MarkCancelled()
			} else {
				_ = job.MarkFailed(runErr.Kind, runErr.Message)
			}
		}
		e.publishLocked(job)
		e.recordHistory(job)
		e.logger.Info("job finished",
			slog.String("job_id", job.ID.String()),
			slog.String("state", string(job.State)),
		)
	}

	e.sem.Release(1)
	e.dispatchLocked()
}

// Status returns a snapshot of one job.
func (e *Engine) Status(jobID string) (models.JobSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.jobs[jobID]
	if !ok {
		return models.JobSnapshot{}, models.ErrJobNotFound
	}
	return entry.job.Snapshot(), nil
}

// List returns snapshots of known jobs, newest first, capped at limit.
func (e *Engine) List(limit int) []models.JobSnapshot {
	e.mu.Lock()
	snaps := make([]models.JobSnapshot, 0, len(e.jobs))
	for _, entry := range e.jobs {
		snaps = append(snaps, entry.job.Snapshot())
	}
	e.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// Cancel cancels one job. A queued job is withdrawn and never runs. A
// running job has its process group killed only when no other handle
// still wants the shared execution's result.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.jobs[jobID]
	if !ok {
		return models.ErrJobNotFound
	}
	if entry.job.IsTerminal() {
		return models.ErrJobTerminal
	}

	_ = entry.job.MarkCancelled()
	e.publishLocked(entry.job)
	e.recordHistory(entry.job)

	exec := entry.exec
	if exec == nil {
		return nil
	}

	for _, job := range exec.jobs {
		if !job.IsTerminal() {
			// Another handle still wants the result; the execution
			// carries on without this job.
			return nil
		}
	}

	exec.cancelled = true
	if exec.admitted {
		if exec.cancel != nil {
			exec.cancel()
		}
	} else {
		// Still queued: withdraw so a later identical submission
		// starts a fresh execution. dispatchLocked skips it.
		if e.execs[exec.fingerprint] == exec {
			delete(e.execs, exec.fingerprint)
		}
	}

	e.logger.Info("job cancelled", slog.String("job_id", jobID))
	return nil
}

// Delete removes a terminal job, its progress stream and any transient
// artifact it holds.
func (e *Engine) Delete(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.jobs[jobID]
	if !ok {
		return models.ErrJobNotFound
	}
	if !entry.job.IsTerminal() {
		return fmt.Errorf("cannot delete job in state %q", entry.job.State)
	}

	e.evictJobLocked(jobID, entry)
	return nil
}

// Artifact acquires the artifact of a succeeded job for delivery. The
// returned release function must be called when done; the lease keeps
// eviction from removing the file mid-stream.
func (e *Engine) Artifact(jobID string) (*models.ArtifactRef, *cache.Delivery, error) {
	e.mu.Lock()
	entry, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return nil, nil, models.ErrJobNotFound
	}
	snap := entry.job.Snapshot()
	e.mu.Unlock()

	if snap.State != models.JobStateSucceeded || snap.Result == nil {
		return nil, nil, models.ErrArtifactUnavailable
	}

	delivery, err := e.cache.OpenDelivery(snap.Result)
	if err != nil {
		return nil, nil, err
	}
	return snap.Result, delivery, nil
}

// Counts returns the number of running and queued executions.
func (e *Engine) Counts() (running, queued int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, exec := range e.execs {
		if exec.admitted {
			running++
		}
	}
	return running, len(e.queue)
}

// Sweep runs one retention pass: terminal jobs past their retention are
// evicted and the cache applies its size/age/disk policy. It runs on
// the cron schedule and can be triggered manually; the count of evicted
// jobs is returned.
func (e *Engine) Sweep() int {
	ctx := e.baseCtx

	e.mu.Lock()
	cutoff := time.Now().Add(-e.cfg.JobRetention)
	evicted := 0
	for id, entry := range e.jobs {
		if entry.job.IsTerminal() && entry.job.CompletedAt != nil && entry.job.CompletedAt.Before(cutoff) {
			e.evictJobLocked(id, entry)
			evicted++
		}
	}
	e.mu.Unlock()

	e.cache.EvictIfNeeded(ctx)
	return evicted
}

// evictJobLocked removes a job from the table, closes its progress
// stream and reaps a transient artifact. Callers hold e.mu.
func (e *Engine) evictJobLocked(id string, entry *jobEntry) {
	delete(e.jobs, id)
	e.pub.CloseJob(id)
	if entry.job.Result != nil && entry.job.Result.Transient {
		e.cache.RemoveTransient(entry.job.Result)
	}
	e.logger.Debug("job evicted", slog.String("job_id", id))
}

// publishLocked broadcasts a job's current state. Callers hold e.mu.
func (e *Engine) publishLocked(job *models.Job) {
	e.pub.Publish(progress.Update{
		JobID:    job.ID.String(),
		State:    job.State,
		Progress: job.Progress,
		Message:  job.Message,
		ErrKind:  job.ErrKind,
		ErrMsg:   job.ErrMsg,
	})
}

// recordHistory writes the terminal audit row, best-effort.
func (e *Engine) recordHistory(job *models.Job) {
	if e.db == nil || !job.IsTerminal() {
		return
	}
	rec := models.RecordOf(job)
	if err := e.db.Create(&rec).Error; err != nil {
		e.logger.Warn("writing job history", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
}
