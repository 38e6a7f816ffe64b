package database

import (
	"time"

	"media-archive/internal/mediatypes"
)

// MediaAsset is one archived file, keyed by its content fingerprint.
// Derived-asset paths stay nil until the owning enrichment job produces
// them; each job kind writes a disjoint set of columns.
type MediaAsset struct {
	Fingerprint   string          `json:"fingerprint"`
	Kind          mediatypes.Kind `json:"kind"`
	ArchivePath   string          `json:"archivePath"`
	OriginalName  string          `json:"originalName"`
	CollectionID  string          `json:"collectionId"`
	Size          int64           `json:"size"`
	ThumbSmall    *string         `json:"thumbSmall,omitempty"`
	ThumbMedium   *string         `json:"thumbMedium,omitempty"`
	ThumbLarge    *string         `json:"thumbLarge,omitempty"`
	PreviewPath   *string         `json:"previewPath,omitempty"`
	ProxyPath     *string         `json:"proxyPath,omitempty"`
	Metadata      *string         `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// FileError names one source file that could not be imported and why.
type FileError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ImportBatch is one user-initiated import operation. Errors holds one
// entry per errored file, in import order.
type ImportBatch struct {
	ID           string      `json:"id"`
	CollectionID string      `json:"collectionId"`
	Total        int         `json:"total"`
	Imported     int         `json:"imported"`
	Duplicates   int         `json:"duplicates"`
	Errored      int         `json:"errored"`
	Errors       []FileError `json:"errors,omitempty"`
	Cancelled    bool        `json:"cancelled"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
}

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	// JobPending means the job is waiting to be claimed.
	JobPending JobState = "pending"
	// JobProcessing means a worker has claimed the job.
	JobProcessing JobState = "processing"
	// JobCompleted means the handler finished successfully.
	JobCompleted JobState = "completed"
	// JobFailed means the last attempt failed but retries remain. It is
	// a reporting bucket, never stored: FailJob requeues the job to
	// pending (with attempts recorded) in the same transition.
	JobFailed JobState = "failed"
	// JobDeadLetter means retries are exhausted; the job is terminal and
	// kept for inspection.
	JobDeadLetter JobState = "dead_letter"
)

// Job is one unit of deferred enrichment work.
type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Payload     string     `json:"payload"`
	State       JobState   `json:"state"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   *string    `json:"lastError,omitempty"`
	RunAfter    time.Time  `json:"runAfter"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// QueueStats summarizes job counts for one queue.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"deadLetter"`
}

// Job priorities. Lower values are claimed first.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityBatch  = 9
)
