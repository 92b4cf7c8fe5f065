package models

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle state of an extraction job.
//
// Transitions: queued → running → {succeeded, failed}; any non-terminal
// state may move to cancelled. Terminal states are never left and no
// state is ever re-entered.
type JobState string

const (
	// JobStateQueued indicates the job is admitted and waiting for a worker slot.
	JobStateQueued JobState = "queued"
	// JobStateRunning indicates the extraction process is executing.
	JobStateRunning JobState = "running"
	// JobStateSucceeded indicates the artifact was produced.
	JobStateSucceeded JobState = "succeeded"
	// JobStateFailed indicates the extraction failed.
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates the job was cancelled before completion.
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

// ArtifactRef points at a produced artifact.
type ArtifactRef struct {
	Fingerprint string `json:"fingerprint"`
	Path        string `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	// Transient marks an artifact that lives outside the cache index
	// (cache disabled or cache write failed) and is reaped with the job.
	Transient bool `json:"-"`
}

// Job is one submission's view of an extraction. Multiple jobs may share
// a single underlying execution when their specs fingerprint the same.
// Jobs are in-memory only; terminal outcomes are additionally written to
// the job_history table as an audit record.
type Job struct {
	ID          ULID
	Fingerprint string
	Spec        ExtractionSpec
	State       JobState
	// Progress is a monotonic completion fraction in [0,1].
	Progress float64
	Message  string
	Result   *ArtifactRef
	ErrKind  FailureKind
	ErrMsg   string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a queued job for the given spec.
func NewJob(spec ExtractionSpec) *Job {
	return &Job{
		ID:          NewULID(),
		Fingerprint: spec.Fingerprint(),
		Spec:        spec,
		State:       JobStateQueued,
		Message:     "queued",
		CreatedAt:   time.Now(),
	}
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// MarkRunning moves the job from queued to running.
func (j *Job) MarkRunning() error {
	if j.State != JobStateQueued {
		return fmt.Errorf("cannot start job in state %q", j.State)
	}
	j.State = JobStateRunning
	j.Message = "running"
	now := time.Now()
	j.StartedAt = &now
	return nil
}

// MarkSucceeded moves the job to succeeded with its artifact.
func (j *Job) MarkSucceeded(result *ArtifactRef) error {
	if j.State.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStateSucceeded
	j.Progress = 1.0
	j.Message = "completed"
	j.Result = result
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// MarkFailed moves the job to failed with a classified error.
func (j *Job) MarkFailed(kind FailureKind, message string) error {
	if j.State.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStateFailed
	j.Message = "failed"
	j.ErrKind = kind
	j.ErrMsg = message
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// MarkCancelled moves the job to cancelled.
func (j *Job) MarkCancelled() error {
	if j.State.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStateCancelled
	j.Message = "cancelled"
	j.ErrKind = FailureCancelled
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// SetProgress records a progress observation. The stored fraction never
// decreases; stale or out-of-order observations are absorbed.
func (j *Job) SetProgress(fraction float64, message string) {
	if j.State.IsTerminal() {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > j.Progress {
		j.Progress = fraction
	}
	if message != "" {
		j.Message = message
	}
}

// Snapshot returns a copy of the job's externally visible state.
func (j *Job) Snapshot() JobSnapshot {
	snap := JobSnapshot{
		ID:          j.ID.String(),
		Fingerprint: j.Fingerprint,
		URL:         j.Spec.URL,
		Format:      j.Spec.Format,
		State:       j.State,
		Progress:    j.Progress,
		Message:     j.Message,
		ErrKind:     j.ErrKind,
		ErrMsg:      j.ErrMsg,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		result := *j.Result
		snap.Result = &result
	}
	return snap
}

// JobSnapshot is a point-in-time copy of a job, safe to use without the
// engine's lock.
type JobSnapshot struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	URL         string       `json:"url"`
	Format      OutputFormat `json:"format"`
	State       JobState     `json:"state"`
	Progress    float64      `json:"progress"`
	Message     string       `json:"message,omitempty"`
	Result      *ArtifactRef `json:"result,omitempty"`
	ErrKind     FailureKind  `json:"error_kind,omitempty"`
	ErrMsg      string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
