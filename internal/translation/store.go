package translation

import (
	"context"
	"time"
)

// SubmissionRecord is one entry of the bounded local submission history. It
// exists so a user can recover a job id after a crash or an upload timeout.
type SubmissionRecord struct {
	JobID           string    `json:"job_id"`
	FileName        string    `json:"file_name"`
	FromLang        string    `json:"from_lang"`
	ToLang          string    `json:"to_lang"`
	SubmittedAt     time.Time `json:"submitted_at"`
	PendingRecovery bool      `json:"pending_recovery"`
}

// SnapshotStore caches the last known state of jobs so status reads can
// degrade to "last known" when the backend is unreachable. Implementations
// stamp their own fresh timestamp on every save; readers use it to judge
// freshness.
type SnapshotStore interface {
	SaveJobSnapshot(ctx context.Context, job Job) error
	// GetJobSnapshot returns the cached job and its save time, or a nil job
	// when nothing is cached.
	GetJobSnapshot(ctx context.Context, jobID string) (*Job, time.Time, error)
	DeleteJobSnapshot(ctx context.Context, jobID string) error
}

// HistoryStore keeps the bounded submission history that powers recovery
// across restarts.
type HistoryStore interface {
	AppendSubmission(ctx context.Context, rec SubmissionRecord) error
	RecentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error)
	// PendingRecoveries lists submissions whose upload timed out before a job
	// id was learned.
	PendingRecoveries(ctx context.Context) ([]SubmissionRecord, error)
	// MarkRecovered fills in the job id once a recovery lookup succeeds.
	MarkRecovered(ctx context.Context, fileName, jobID string) error
}

// Store is the full persistence surface the translation flow needs.
type Store interface {
	SnapshotStore
	HistoryStore
}
