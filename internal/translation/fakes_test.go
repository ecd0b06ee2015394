package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/internal/auth"
)

// fakeBackend scripts the translation server endpoint by endpoint. Handlers
// can be swapped mid-test to simulate a server changing behavior.
type fakeBackend struct {
	mu          sync.Mutex
	statusCalls int
	submitCalls int
	fetchCalls  int
	findCalls   int

	statusFn func(call int, jobID string) (*api.JobStatus, error)
	submitFn func(req api.SubmitRequest) (*api.SubmitResponse, error)
	findFn   func(filename string) (*api.JobSummary, error)
	activeFn func() ([]api.JobSummary, error)
	fetchFn  func(call int, jobID string, partial bool) (*api.ResultDocument, error)
	cancelFn func(jobID string) error
}

func (b *fakeBackend) SubmitTranslation(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	b.mu.Lock()
	b.submitCalls++
	fn := b.submitFn
	b.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("submit not scripted")
	}
	return fn(req)
}

func (b *fakeBackend) JobStatus(ctx context.Context, jobID string) (*api.JobStatus, error) {
	b.mu.Lock()
	b.statusCalls++
	call := b.statusCalls
	fn := b.statusFn
	b.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("status not scripted")
	}
	return fn(call, jobID)
}

func (b *fakeBackend) FindJobByFilename(ctx context.Context, filename string) (*api.JobSummary, error) {
	b.mu.Lock()
	b.findCalls++
	fn := b.findFn
	b.mu.Unlock()
	if fn == nil {
		return nil, api.NewError(api.ErrJobNotFound, "no job matches the file name")
	}
	return fn(filename)
}

func (b *fakeBackend) ActiveJobs(ctx context.Context) ([]api.JobSummary, error) {
	b.mu.Lock()
	fn := b.activeFn
	b.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (b *fakeBackend) FetchResult(ctx context.Context, jobID string, partial bool) (*api.ResultDocument, error) {
	b.mu.Lock()
	b.fetchCalls++
	call := b.fetchCalls
	fn := b.fetchFn
	b.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("fetch not scripted")
	}
	return fn(call, jobID, partial)
}

func (b *fakeBackend) CancelJob(ctx context.Context, jobID string) error {
	b.mu.Lock()
	fn := b.cancelFn
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(jobID)
}

func (b *fakeBackend) setStatusFn(fn func(call int, jobID string) (*api.JobStatus, error)) {
	b.mu.Lock()
	b.statusFn = fn
	b.mu.Unlock()
}

func (b *fakeBackend) statusCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

func (b *fakeBackend) submitCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitCalls
}

func (b *fakeBackend) fetchCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchCalls
}

// fakeStore records snapshot saves in memory.
type fakeStore struct {
	mu    sync.Mutex
	saves []Job
}

func (s *fakeStore) SaveJobSnapshot(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, job)
	return nil
}

func (s *fakeStore) GetJobSnapshot(ctx context.Context, jobID string) (*Job, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saves) - 1; i >= 0; i-- {
		if s.saves[i].ID == jobID {
			job := s.saves[i]
			return &job, time.Now(), nil
		}
	}
	return nil, time.Time{}, nil
}

func (s *fakeStore) DeleteJobSnapshot(ctx context.Context, jobID string) error {
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) lastSave() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return Job{}, false
	}
	return s.saves[len(s.saves)-1], true
}

// fakeHistory is an in-memory HistoryStore.
type fakeHistory struct {
	mu        sync.Mutex
	records   []SubmissionRecord
	recovered map[string]string
}

func (h *fakeHistory) AppendSubmission(ctx context.Context, rec SubmissionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) RecentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]SubmissionRecord(nil), h.records...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *fakeHistory) PendingRecoveries(ctx context.Context) ([]SubmissionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []SubmissionRecord
	for _, rec := range h.records {
		if rec.PendingRecovery {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (h *fakeHistory) MarkRecovered(ctx context.Context, fileName, jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recovered == nil {
		h.recovered = make(map[string]string)
	}
	h.recovered[fileName] = jobID
	for i := range h.records {
		if h.records[i].FileName == fileName && h.records[i].PendingRecovery {
			h.records[i].PendingRecovery = false
			h.records[i].JobID = jobID
		}
	}
	return nil
}

func (h *fakeHistory) all() []SubmissionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SubmissionRecord(nil), h.records...)
}

// fakeTokenSource satisfies api.TokenSource for submitter tests.
type fakeTokenSource struct {
	mu     sync.Mutex
	forced int
}

func (f *fakeTokenSource) GetValidToken(ctx context.Context) (*auth.Token, error) {
	return &auth.Token{Raw: "tok"}, nil
}

func (f *fakeTokenSource) ForceRefresh(ctx context.Context) (*auth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	return &auth.Token{Raw: "tok-fresh"}, nil
}

func (f *fakeTokenSource) Touch() {}

func (f *fakeTokenSource) forceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forced
}
