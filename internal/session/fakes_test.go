package session

import (
	"context"
	"sync"
	"time"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/internal/auth"
	"github.com/lingodoc/lingodoc-go/internal/translation"
)

type fakeBackend struct {
	mu          sync.Mutex
	statusCalls int
	cancelCalls int
	fetchCalls  int

	submitFn   func(req api.SubmitRequest) (*api.SubmitResponse, error)
	statusFn   func(call int, jobID string) (*api.JobStatus, error)
	findFn     func(filename string) (*api.JobSummary, error)
	activeFn   func() ([]api.JobSummary, error)
	fetchFn    func(jobID string, partial bool) (*api.ResultDocument, error)
	cancelFn   func(jobID string) error
	balanceFn  func() (*api.BalanceInfo, error)
	addPagesFn func(pages int) (*api.BalanceInfo, error)
}

func (f *fakeBackend) SubmitTranslation(_ context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	if f.submitFn != nil {
		return f.submitFn(req)
	}
	return &api.SubmitResponse{JobID: "job-1", Status: "pending"}, nil
}

func (f *fakeBackend) JobStatus(_ context.Context, jobID string) (*api.JobStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	fn := f.statusFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, jobID)
	}
	return &api.JobStatus{JobID: jobID, Status: "completed", Progress: 100}, nil
}

func (f *fakeBackend) FindJobByFilename(_ context.Context, filename string) (*api.JobSummary, error) {
	if f.findFn != nil {
		return f.findFn(filename)
	}
	return nil, api.NewError(api.ErrJobNotFound, "no job for file")
}

func (f *fakeBackend) ActiveJobs(context.Context) ([]api.JobSummary, error) {
	if f.activeFn != nil {
		return f.activeFn()
	}
	return nil, nil
}

func (f *fakeBackend) FetchResult(_ context.Context, jobID string, partial bool) (*api.ResultDocument, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.fetchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(jobID, partial)
	}
	return &api.ResultDocument{JobID: jobID, Filename: "out.pdf", Content: []byte("doc")}, nil
}

func (f *fakeBackend) CancelJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	f.cancelCalls++
	fn := f.cancelFn
	f.mu.Unlock()
	if fn != nil {
		return fn(jobID)
	}
	return nil
}

func (f *fakeBackend) Balance(context.Context) (*api.BalanceInfo, error) {
	if f.balanceFn != nil {
		return f.balanceFn()
	}
	return &api.BalanceInfo{PagesBalance: 25}, nil
}

func (f *fakeBackend) AddPages(_ context.Context, pages int) (*api.BalanceInfo, error) {
	if f.addPagesFn != nil {
		return f.addPagesFn(pages)
	}
	return &api.BalanceInfo{PagesBalance: 25 + pages}, nil
}

func (f *fakeBackend) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeBackend) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

type snapEntry struct {
	job translation.Job
	at  time.Time
}

type fakeStore struct {
	mu           sync.Mutex
	snapshots    map[string]snapEntry
	history      []translation.SubmissionRecord
	expiredCalls int
	pruneCalls   int
	closed       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]snapEntry)}
}

func (f *fakeStore) SaveJobSnapshot(_ context.Context, job translation.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[job.ID] = snapEntry{job: job, at: time.Now().UTC()}
	return nil
}

func (f *fakeStore) GetJobSnapshot(_ context.Context, jobID string) (*translation.Job, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.snapshots[jobID]
	if !ok {
		return nil, time.Time{}, nil
	}
	job := entry.job
	return &job, entry.at, nil
}

func (f *fakeStore) DeleteJobSnapshot(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, jobID)
	return nil
}

func (f *fakeStore) AppendSubmission(_ context.Context, rec translation.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeStore) RecentSubmissions(_ context.Context, limit int) ([]translation.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]translation.SubmissionRecord, 0, len(f.history))
	for i := len(f.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

func (f *fakeStore) PendingRecoveries(context.Context) ([]translation.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []translation.SubmissionRecord
	for _, rec := range f.history {
		if rec.PendingRecovery {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRecovered(_ context.Context, fileName, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.history {
		if f.history[i].FileName == fileName && f.history[i].PendingRecovery {
			f.history[i].JobID = jobID
			f.history[i].PendingRecovery = false
		}
	}
	return nil
}

func (f *fakeStore) DeleteExpiredSnapshots(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredCalls++
	var n int64
	for id, entry := range f.snapshots {
		if entry.at.Before(olderThan) {
			delete(f.snapshots, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PruneSubmissions(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return 0, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) snapshot(jobID string) (translation.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.snapshots[jobID]
	return entry.job, ok
}

func (f *fakeStore) seedSnapshot(job translation.Job, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[job.ID] = snapEntry{job: job, at: at}
}

type fakeTokens struct {
	mu     sync.Mutex
	forced int
	closed bool
}

func (f *fakeTokens) GetValidToken(context.Context) (*auth.Token, error) {
	return &auth.Token{Raw: "tok"}, nil
}

func (f *fakeTokens) ForceRefresh(context.Context) (*auth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	return &auth.Token{Raw: "tok-fresh"}, nil
}

func (f *fakeTokens) Touch() {}

func (f *fakeTokens) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
