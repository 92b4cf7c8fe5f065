package models

import "time"

// CacheEntry is the persisted index row for one cached artifact. The
// artifact file itself lives under the storage sandbox at Path.
type CacheEntry struct {
	ID          ULID   `gorm:"type:varchar(26);primaryKey" json:"id"`
	Fingerprint string `gorm:"size:64;uniqueIndex;not null" json:"fingerprint"`
	// Path is relative to the sandbox root.
	Path         string    `gorm:"size:512;not null" json:"path"`
	Filename     string    `gorm:"size:255" json:"filename"`
	ContentType  string    `gorm:"size:64" json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `gorm:"index" json:"last_access_at"`
	HitCount     int64     `json:"hit_count"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// JobRecord is the audit row written when a job reaches a terminal state.
// Live jobs are in-memory only; this table survives restarts for
// inspection and statistics.
type JobRecord struct {
	ID          ULID         `gorm:"type:varchar(26);primaryKey" json:"id"`
	Fingerprint string       `gorm:"size:64;index" json:"fingerprint"`
	URL         string       `gorm:"size:2048" json:"url"`
	Format      OutputFormat `gorm:"size:8" json:"format"`
	State       JobState     `gorm:"size:16;index" json:"state"`
	ErrKind     FailureKind  `gorm:"size:32" json:"error_kind,omitempty"`
	ErrMsg      string       `gorm:"size:4096" json:"error,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `gorm:"index" json:"completed_at"`
}

// TableName returns the table name for JobRecord.
func (JobRecord) TableName() string {
	return "job_history"
}

// RecordOf builds the audit row for a terminal job.
func RecordOf(j *Job) JobRecord {
	rec := JobRecord{
		ID:          j.ID,
		Fingerprint: j.Fingerprint,
		URL:         j.Spec.URL,
		Format:      j.Spec.Format,
		State:       j.State,
		ErrKind:     j.ErrKind,
		ErrMsg:      j.ErrMsg,
		CreatedAt:   j.CreatedAt,
	}
	if j.CompletedAt != nil {
		rec.CompletedAt = *j.CompletedAt
		if j.StartedAt != nil {
			rec.DurationMs = j.CompletedAt.Sub(*j.StartedAt).Milliseconds()
		}
	}
	return rec
}
