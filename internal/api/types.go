package api

import "strings"

// Wire types for the translation backend. Decoding is deliberately tolerant:
// unknown fields are ignored and absent counters come back as zero, so older
// clients keep working against newer servers.

// SubmitRequest carries one document upload. Content is held in memory so a
// rejected attempt can be replayed with a fresh token.
type SubmitRequest struct {
	Filename   string
	Content    []byte
	SourceLang string
	TargetLang string
}

// SubmitResponse is the acknowledgement for an accepted submission.
type SubmitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	PagesBilled int    `json:"pages_billed"`
	Message     string `json:"message"`
}

// JobStatus is one point-in-time report for a job.
type JobStatus struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	TotalPages     int    `json:"total_pages"`
	CompletedPages int    `json:"completed_pages"`
	Error          string `json:"error"`
}

// JobSummary is the listing shape returned by the active-jobs endpoint.
// CreatedAt stays a string because the server has changed its timestamp
// format before; callers that need the instant parse it themselves.
type JobSummary struct {
	JobID     string `json:"job_id"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	CreatedAt string `json:"created_at"`
}

type jobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// BalanceInfo is the page quota for the signed-in account. IsDefault marks
// values synthesized client-side when the endpoint was unreachable.
type BalanceInfo struct {
	PagesBalance int  `json:"pages_balance"`
	PagesUsed    int  `json:"pages_used"`
	IsDefault    bool `json:"-"`
}

// ResultDocument is a downloaded translation artifact.
type ResultDocument struct {
	JobID    string
	Filename string
	Partial  bool
	MIMEType string
	Content  []byte
}

// errorBody covers the error payload shapes the backend has shipped over
// time. Any of the fields may carry the human-readable text.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Code    string `json:"code"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Message, b.Error, b.Detail} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func (b errorBody) notReady() bool {
	return strings.EqualFold(b.Code, "not_ready") || strings.EqualFold(b.Error, "not_ready")
}
