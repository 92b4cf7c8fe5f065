// Package progress implements per-job progress broadcast with a cached
// last value, so late subscribers immediately see where a job stands.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/snipd/internal/models"
)

// subscriberBufferSize is the per-subscriber channel depth. A slow
// consumer drops intermediate updates rather than blocking the job.
const subscriberBufferSize = 16

// Update is one progress observation for a job.
type Update struct {
	JobID     string             `json:"job_id"`
	State     models.JobState    `json:"state"`
	Progress  float64            `json:"progress"`
	Message   string             `json:"message,omitempty"`
	ErrKind   models.FailureKind `json:"error_kind,omitempty"`
	ErrMsg    string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// stream holds the broadcast state for a single job.
type stream struct {
	last    Update
	hasLast bool
	subs    map[string]chan Update
}

// Publisher fans progress updates out to subscribers, keyed by job ID.
// The last published update is cached per job so a subscriber attaching
// mid-run is primed with the current state. Subscribing and detaching
// never affect the job itself.
type Publisher struct {
	mu      sync.RWMutex
	streams map[string]*stream
	logger  *slog.Logger
}

// NewPublisher creates a progress publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		streams: make(map[string]*stream),
		logger:  logger,
	}
}

// Publish records an update and broadcasts it to all subscribers of the
// job. The cached progress fraction never decreases while the job is
// non-terminal; out-of-order observations are absorbed.
func (p *Publisher) Publish(u Update) {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now()
	}

	p.mu.Lock()
	st, ok := p.streams[u.JobID]
	if !ok {
		st = &stream{subs: make(map[string]chan Update)}
		p.streams[u.JobID] = st
	}

	if st.hasLast && !st.last.State.IsTerminal() && u.Progress < st.last.Progress {
		u.Progress = st.last.Progress
	}
	st.last = u
	st.hasLast = true

	for id, ch := range st.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber: drop this update, the cached last value
			// keeps its next read current.
			p.logger.Debug("dropping progress update for slow subscriber",
				slog.String("job_id", u.JobID),
				slog.String("subscriber_id", id),
			)
		}
	}
	p.mu.Unlock()
}

// Snapshot returns the last published update for a job.
func (p *Publisher) Snapshot(jobID string) (Update, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.streams[jobID]
	if !ok || !st.hasLast {
		return Update{}, false
	}
	return st.last, true
}

// Subscribe attaches to a job's update stream. If the job already has a
// cached update it is delivered on the channel before any new ones. The
// returned ID is used to detach. A job with no stream (never published,
// or already torn down by CloseJob) yields a nil channel; subscribing
// must not resurrect an evicted job's stream.
func (p *Publisher) Subscribe(jobID string) (string, <-chan Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[jobID]
	if !ok {
		return "", nil
	}

	id := uuid.NewString()
	ch := make(chan Update, subscriberBufferSize)
	st.subs[id] = ch
	if st.hasLast {
		ch <- st.last
	}
	return id, ch
}

// Unsubscribe detaches a subscriber. The channel is closed; the job is
// unaffected.
func (p *Publisher) Unsubscribe(jobID, subscriberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[jobID]
	if !ok {
		return
	}
	if ch, ok := st.subs[subscriberID]; ok {
		delete(st.subs, subscriberID)
		close(ch)
	}
}

// CloseJob tears down a job's stream when the job is evicted. All
// subscriber channels are closed.
func (p *Publisher) CloseJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[jobID]
	if !ok {
		return
	}
	for _, ch := range st.subs {
		close(ch)
	}
	delete(p.streams, jobID)
}

// SubscriberCount returns the number of active subscribers for a job.
func (p *Publisher) SubscriberCount(jobID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.streams[jobID]
	if !ok {
		return 0
	}
	return len(st.subs)
}
