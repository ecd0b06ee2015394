package translation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/internal/langdetect"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// SubmitConfig tunes the submission flow.
type SubmitConfig struct {
	// RecoveryWait is the pause between an upload timeout and the
	// find-by-filename lookup, giving the server a moment to register the
	// job it may have created.
	RecoveryWait time.Duration
}

func (c SubmitConfig) withDefaults() SubmitConfig {
	if c.RecoveryWait <= 0 {
		c.RecoveryWait = 2 * time.Second
	}
	return c
}

// Submitter validates and uploads documents. An upload timeout is not a
// failure: the server often finished creating the job and only the response
// was lost, so the submitter looks the job up by filename and adopts it.
type Submitter struct {
	backend Backend
	tokens  api.TokenSource
	history HistoryStore
	cfg     SubmitConfig
}

// NewSubmitter builds a submitter. tokens and history may be nil; the
// pre-upload refresh and the local history are skipped then.
func NewSubmitter(backend Backend, tokens api.TokenSource, history HistoryStore, cfg SubmitConfig) *Submitter {
	return &Submitter{
		backend: backend,
		tokens:  tokens,
		history: history,
		cfg:     cfg.withDefaults(),
	}
}

// Submit validates the document, uploads it and returns the tracked job.
func (s *Submitter) Submit(ctx context.Context, path, from, to string) (Job, error) {
	if to == "" {
		return Job{}, api.NewError(api.ErrValidation, "target language is required")
	}
	if err := ValidateFile(path); err != nil {
		return Job{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Job{}, api.WrapError(err, api.ErrValidation, fmt.Sprintf("cannot read file: %s", path))
	}

	fileName := filepath.Base(path)
	from = s.resolveSourceLang(fileName, content, from)

	// Refresh ahead of a potentially long upload so the token cannot expire
	// mid-transfer. Failures are fine, the request path refreshes reactively.
	if s.tokens != nil {
		if _, err := s.tokens.ForceRefresh(ctx); err != nil {
			log.Warn("Pre-upload token refresh failed: %v", err)
		}
	}

	submittedAt := time.Now()
	resp, err := s.backend.SubmitTranslation(ctx, api.SubmitRequest{
		Filename:   fileName,
		Content:    content,
		SourceLang: from,
		TargetLang: to,
	})
	if err != nil {
		if api.IsKind(err, api.ErrNetworkTimeout) {
			return s.recoverAfterTimeout(ctx, fileName, from, to, submittedAt, err)
		}
		return Job{}, err
	}

	status, ok := ParseStatus(resp.Status)
	if !ok {
		status = StatusPending
	}
	job := Job{
		ID:           resp.JobID,
		FileName:     fileName,
		FromLang:     from,
		ToLang:       to,
		Status:       status,
		PagesBilled:  resp.PagesBilled,
		SubmittedAt:  submittedAt,
		LastStatusAt: submittedAt,
	}
	s.record(SubmissionRecord{
		JobID:       job.ID,
		FileName:    fileName,
		FromLang:    from,
		ToLang:      to,
		SubmittedAt: submittedAt,
	})

	log.Info("Submitted %s as job %s (%s -> %s)", fileName, job.ID, from, to)
	return job, nil
}

func (s *Submitter) resolveSourceLang(fileName string, content []byte, from string) string {
	if from != "" && from != "auto" {
		return from
	}
	if !langdetect.Supported(fileName) {
		return "auto"
	}
	code := langdetect.Code(langdetect.Detect(string(content)))
	if code != "auto" {
		log.Info("Detected source language %q for %s", code, fileName)
	}
	return code
}

// recoverAfterTimeout handles the lost-response case: wait briefly, then ask
// the server whether a job for this filename exists. Found jobs are adopted
// as if the submission had succeeded.
func (s *Submitter) recoverAfterTimeout(ctx context.Context, fileName, from, to string, submittedAt time.Time, cause error) (Job, error) {
	log.Warn("Submission of %s timed out, checking whether the server created the job anyway", fileName)

	select {
	case <-ctx.Done():
		return Job{}, cause
	case <-time.After(s.cfg.RecoveryWait):
	}

	summary, err := s.backend.FindJobByFilename(ctx, fileName)
	if err == nil && summary.JobID != "" {
		now := time.Now()
		status, ok := ParseStatus(summary.Status)
		if !ok {
			status = StatusPending
		}
		job := Job{
			ID:                    summary.JobID,
			FileName:              fileName,
			FromLang:              from,
			ToLang:                to,
			Status:                status,
			Progress:              summary.Progress,
			SubmittedAt:           submittedAt,
			LastStatusAt:          now,
			RecoveredAfterTimeout: true,
		}
		s.record(SubmissionRecord{
			JobID:       job.ID,
			FileName:    fileName,
			FromLang:    from,
			ToLang:      to,
			SubmittedAt: submittedAt,
		})
		log.Info("Recovered job %s for %s after a submission timeout", job.ID, fileName)
		return job, nil
	}

	// Keep enough locally that a manual recovery can retry the lookup.
	s.record(SubmissionRecord{
		FileName:        fileName,
		FromLang:        from,
		ToLang:          to,
		SubmittedAt:     submittedAt,
		PendingRecovery: true,
	})
	return Job{}, api.WrapError(cause, api.ErrRecoveryFailed,
		"the upload may still be processing; retry recovery in a moment")
}

// Recover retries the find-by-filename lookup for a submission whose upload
// timed out earlier.
func (s *Submitter) Recover(ctx context.Context, fileName string) (Job, error) {
	summary, err := s.backend.FindJobByFilename(ctx, fileName)
	if err != nil {
		if api.IsKind(err, api.ErrJobNotFound) {
			return Job{}, api.WrapError(err, api.ErrRecoveryFailed,
				fmt.Sprintf("no active job matches %s", fileName))
		}
		return Job{}, err
	}

	now := time.Now()
	status, ok := ParseStatus(summary.Status)
	if !ok {
		status = StatusPending
	}
	job := Job{
		ID:                    summary.JobID,
		FileName:              fileName,
		Status:                status,
		Progress:              summary.Progress,
		SubmittedAt:           now,
		LastStatusAt:          now,
		RecoveredAfterTimeout: true,
	}

	if s.history != nil {
		// Pull the language pair from the pending record when we have one.
		if pending, err := s.history.PendingRecoveries(context.Background()); err == nil {
			for _, rec := range pending {
				if rec.FileName == fileName {
					job.FromLang = rec.FromLang
					job.ToLang = rec.ToLang
					job.SubmittedAt = rec.SubmittedAt
					break
				}
			}
		}
		if err := s.history.MarkRecovered(context.Background(), fileName, job.ID); err != nil {
			log.Warn("Failed to mark %s as recovered: %v", fileName, err)
		}
	}

	log.Info("Recovered job %s for %s", job.ID, fileName)
	return job, nil
}

func (s *Submitter) record(rec SubmissionRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.AppendSubmission(context.Background(), rec); err != nil {
		log.Warn("Failed to record submission of %s: %v", rec.FileName, err)
	}
}
