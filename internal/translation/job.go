package translation

import (
	"strings"
	"time"
)

// Status is the server-reported lifecycle state of a translation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimeout    Status = "timeout"
)

// ParseStatus maps a wire value onto the known status set. ok is false for
// values this client does not understand; callers keep the previous state
// and continue polling in that case.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPartial,
		StatusFailed, StatusCancelled, StatusTimeout:
		return s, true
	}
	return "", false
}

// Terminal reports whether no further server-side transitions are expected.
// partial is not terminal: the job keeps running after a partial artifact
// becomes available.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Job is the client-side record of one translation. After submission the
// poller is the only writer; everyone else works on snapshot copies.
type Job struct {
	ID                    string    `json:"id"`
	FileName              string    `json:"file_name"`
	FromLang              string    `json:"from_lang"`
	ToLang                string    `json:"to_lang"`
	Status                Status    `json:"status"`
	Progress              int       `json:"progress"`
	CurrentPage           int       `json:"current_page"`
	TotalPages            int       `json:"total_pages"`
	Error                 string    `json:"error,omitempty"`
	PagesBilled           int       `json:"pages_billed,omitempty"`
	SubmittedAt           time.Time `json:"submitted_at"`
	LastStatusAt          time.Time `json:"last_status_at"`
	RecoveredAfterTimeout bool      `json:"recovered_after_timeout,omitempty"`
}
