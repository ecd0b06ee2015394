// Package session wires auth, the backend client, local persistence and
// per-job pollers into the coordinator the CLI drives.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/internal/auth"
	"github.com/lingodoc/lingodoc-go/internal/balance"
	"github.com/lingodoc/lingodoc-go/internal/config"
	"github.com/lingodoc/lingodoc-go/internal/store"
	"github.com/lingodoc/lingodoc-go/internal/translation"
	"github.com/lingodoc/lingodoc-go/pkg/icron"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// Backend is the slice of the API surface the session drives directly.
type Backend interface {
	translation.Backend
	Balance(ctx context.Context) (*api.BalanceInfo, error)
	AddPages(ctx context.Context, pages int) (*api.BalanceInfo, error)
}

// Store is the local persistence the session needs: the translation state
// plus the maintenance hooks.
type Store interface {
	translation.Store
	DeleteExpiredSnapshots(ctx context.Context, olderThan time.Time) (int64, error)
	PruneSubmissions(ctx context.Context) (int64, error)
	Close() error
}

// TokenManager owns the session token lifecycle.
type TokenManager interface {
	api.TokenSource
	Close()
}

// StatusReport is a one-shot job status read. Stale marks values served
// from the local snapshot because the backend was unreachable; AsOf is then
// the time the snapshot was written.
type StatusReport struct {
	Job   translation.Job
	Stale bool
	AsOf  time.Time
}

// Session coordinates one authenticated translation session: it owns the
// token manager, the per-job pollers and the local store, and schedules
// background maintenance.
type Session struct {
	cfg       *config.Config
	tokens    TokenManager
	backend   Backend
	store     Store
	submitter *translation.Submitter
	fetcher   *translation.Fetcher
	balances  *balance.Cache

	pollCfg  translation.PollerConfig
	cronExpr string
	cron     *cron.Cron
	sf       singleflight.Group

	mu      sync.Mutex
	pollers map[string]*translation.Poller
	closed  bool
}

// New builds a session from configuration, opening the local store and
// wiring the HTTP client against the configured backend.
func New(cfg *config.Config) (*Session, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	timeout := time.Duration(cfg.API.Timeout) * time.Second
	provider := auth.NewHTTPProvider(cfg.Auth.TokenURL, cfg.Auth.Credential, timeout)
	tokens := auth.NewManager(provider, auth.Config{ProactiveRefresh: cfg.Auth.ProactiveRefresh})
	client := api.NewClient(cfg.API.BaseURL, tokens,
		api.WithTimeout(timeout),
		api.WithUploadTimeout(time.Duration(cfg.API.UploadTimeout)*time.Second),
		api.WithResultTimeout(time.Duration(cfg.API.ResultTimeout)*time.Second),
	)

	s := newSession(cfg, tokens, client, st)
	if err := s.scheduleMaintenance(); err != nil {
		tokens.Close()
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

func newSession(cfg *config.Config, tokens TokenManager, backend Backend, st Store) *Session {
	return &Session{
		cfg:       cfg,
		tokens:    tokens,
		backend:   backend,
		store:     st,
		submitter: translation.NewSubmitter(backend, tokens, st, translation.SubmitConfig{}),
		fetcher:   translation.NewFetcher(backend, time.Duration(cfg.API.ResultTimeout)*time.Second),
		balances:  balance.NewCache(backend, balance.DefaultTTL),
		pollCfg:   translation.DefaultPollerConfig(),
		cronExpr:  cfg.System.MaintenanceCron,
		pollers:   make(map[string]*translation.Poller),
	}
}

func (s *Session) scheduleMaintenance() error {
	if s.cronExpr == "" {
		return nil
	}
	s.cron = cron.New()
	runFunc := func() {
		_, _, _ = s.sf.Do("maintenance", func() (any, error) {
			s.runMaintenance(context.Background())
			return nil, nil
		})
	}
	if _, err := s.cron.AddFunc(s.cronExpr, runFunc); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	s.cron.Start()
	return nil
}

// runMaintenance prunes expired snapshots and surplus history, and marks
// the balance cache for a lazy refetch. It never generates network traffic
// of its own so an idle session stays quiet.
func (s *Session) runMaintenance(ctx context.Context) {
	ttl := time.Duration(s.cfg.System.SnapshotTTLHours) * time.Hour
	if ttl > 0 {
		cutoff := time.Now().UTC().Add(-ttl)
		if n, err := s.store.DeleteExpiredSnapshots(ctx, cutoff); err != nil {
			log.Warn("maintenance: delete expired snapshots: %v", err)
		} else if n > 0 {
			log.Info("maintenance: dropped %d expired job snapshots", n)
		}
	}
	if n, err := s.store.PruneSubmissions(ctx); err != nil {
		log.Warn("maintenance: prune submission history: %v", err)
	} else if n > 0 {
		log.Info("maintenance: pruned %d submission records", n)
	}
	s.balances.Invalidate()
}

// MaintenanceInfo reports when maintenance last fired and when it fires
// next according to the configured schedule.
func (s *Session) MaintenanceInfo() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.cronExpr, time.Now())
}

// Translate validates and uploads a document, then starts polling the new
// job. The returned poller reports progress through onUpdate and closes
// Done when the job reaches a terminal state.
func (s *Session) Translate(ctx context.Context, path, from, to string, onUpdate func(translation.JobView)) (*translation.Poller, error) {
	if to == "" {
		to = s.cfg.Translate.TargetLanguage
	}
	job, err := s.submitter.Submit(ctx, path, from, to)
	if err != nil {
		return nil, err
	}
	// Pages were billed; the cached balance is out of date.
	s.balances.Invalidate()
	return s.track(job, onUpdate)
}

// Track ensures a running poller exists for the job. An already tracked
// job keeps its poller (re-activating it if it previously timed out); an
// unknown one is seeded from the local snapshot when available.
func (s *Session) Track(ctx context.Context, jobID string, onUpdate func(translation.JobView)) (*translation.Poller, error) {
	s.mu.Lock()
	if p, ok := s.pollers[jobID]; ok {
		s.mu.Unlock()
		if p.Resume() {
			log.Info("resumed polling for job %s", jobID)
		}
		return p, nil
	}
	s.mu.Unlock()

	job := translation.Job{ID: jobID, Status: translation.StatusPending, SubmittedAt: time.Now().UTC()}
	if snap, _, err := s.store.GetJobSnapshot(ctx, jobID); err == nil && snap != nil {
		job = *snap
	}
	return s.track(job, onUpdate)
}

// Watch returns the poller for a job if one is registered.
func (s *Session) Watch(jobID string) (*translation.Poller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pollers[jobID]
	return p, ok
}

func (s *Session) track(job translation.Job, onUpdate func(translation.JobView)) (*translation.Poller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	if p, ok := s.pollers[job.ID]; ok {
		return p, nil
	}
	cfg := s.pollCfg
	cfg.OnUpdate = onUpdate
	p := translation.NewPoller(s.backend, s.store, job, cfg)
	s.pollers[job.ID] = p
	p.Start()
	return p, nil
}

// Status reads the current state of a job once. A tracked job answers from
// its poller; otherwise the backend is asked and the snapshot refreshed.
// When the backend is unreachable the last known snapshot is served,
// flagged stale.
func (s *Session) Status(ctx context.Context, jobID string) (*StatusReport, error) {
	s.mu.Lock()
	p, tracked := s.pollers[jobID]
	s.mu.Unlock()
	if tracked {
		view := p.Snapshot()
		return &StatusReport{Job: view.Job, AsOf: time.Now()}, nil
	}

	st, err := s.backend.JobStatus(ctx, jobID)
	if err == nil {
		job := jobFromStatus(st)
		if serr := s.store.SaveJobSnapshot(ctx, *job); serr != nil {
			log.Warn("save job snapshot for %s: %v", jobID, serr)
		}
		return &StatusReport{Job: *job, AsOf: time.Now()}, nil
	}
	if api.IsKind(err, api.ErrJobNotFound) {
		return nil, err
	}
	if snap, at, serr := s.store.GetJobSnapshot(ctx, jobID); serr == nil && snap != nil {
		log.Warn("status fetch for %s failed, serving last known state: %v", jobID, err)
		return &StatusReport{Job: *snap, Stale: true, AsOf: at}, nil
	}
	return nil, err
}

// Result downloads the translated document. When the backend reports the
// job is not ready yet, no document is returned, resumed is true and the
// session goes back to polling the job.
func (s *Session) Result(ctx context.Context, jobID string, allowPartial bool) (*api.ResultDocument, bool, error) {
	outcome, err := s.fetcher.Fetch(ctx, jobID, allowPartial)
	if err != nil {
		return nil, false, err
	}
	if outcome.ShouldResume {
		if _, terr := s.Track(ctx, jobID, nil); terr != nil {
			log.Warn("resume polling for %s: %v", jobID, terr)
		}
		return nil, true, nil
	}
	return outcome.Doc, false, nil
}

// Cancel stops polling the job immediately and tells the backend to abort
// it. The local cancel stands even when the backend call fails.
func (s *Session) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	p, tracked := s.pollers[jobID]
	s.mu.Unlock()
	if tracked {
		p.Cancel()
	}

	if err := s.backend.CancelJob(ctx, jobID); err != nil {
		if tracked {
			log.Warn("backend cancel for %s failed: %v", jobID, err)
			return nil
		}
		return err
	}
	if !tracked {
		if snap, _, err := s.store.GetJobSnapshot(ctx, jobID); err == nil && snap != nil {
			snap.Status = translation.StatusCancelled
			snap.LastStatusAt = time.Now().UTC()
			if err := s.store.SaveJobSnapshot(ctx, *snap); err != nil {
				log.Warn("save cancelled snapshot for %s: %v", jobID, err)
			}
		}
	}
	return nil
}

// Recover looks up a job the backend may have created for an upload whose
// response never arrived, and starts polling it on success.
func (s *Session) Recover(ctx context.Context, fileName string, onUpdate func(translation.JobView)) (*translation.Poller, error) {
	job, err := s.submitter.Recover(ctx, fileName)
	if err != nil {
		return nil, err
	}
	return s.track(job, onUpdate)
}

// PendingRecoveries lists submissions still waiting for a job id.
func (s *Session) PendingRecoveries(ctx context.Context) ([]translation.SubmissionRecord, error) {
	return s.store.PendingRecoveries(ctx)
}

// History lists the most recent local submissions, newest first.
func (s *Session) History(ctx context.Context, limit int) ([]translation.SubmissionRecord, error) {
	return s.store.RecentSubmissions(ctx, limit)
}

// ActiveJobs lists the jobs the backend still considers live.
func (s *Session) ActiveJobs(ctx context.Context) ([]api.JobSummary, error) {
	return s.backend.ActiveJobs(ctx)
}

// Balance returns the page quota, cached and never failing the caller.
func (s *Session) Balance(ctx context.Context) balance.Info {
	return s.balances.Get(ctx)
}

// AddPages purchases pages and returns the updated quota.
func (s *Session) AddPages(ctx context.Context, pages int) (balance.Info, error) {
	return s.balances.AddPages(ctx, pages)
}

// Close stops maintenance and all pollers, signs out and closes the store.
// Poll state is left untouched so a later session can pick jobs back up
// from their snapshots.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pollers := make([]*translation.Poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	for _, p := range pollers {
		p.Stop()
	}
	s.tokens.Close()
	if err := s.store.Close(); err != nil {
		log.Warn("close local store: %v", err)
	}
}

func jobFromStatus(st *api.JobStatus) *translation.Job {
	status, ok := translation.ParseStatus(st.Status)
	if !ok {
		log.Warn("unknown job status %q for %s", st.Status, st.JobID)
		status = translation.Status(st.Status)
	}
	progress := st.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return &translation.Job{
		ID:           st.JobID,
		Status:       status,
		Progress:     progress,
		CurrentPage:  st.CompletedPages,
		TotalPages:   st.TotalPages,
		Error:        st.Error,
		LastStatusAt: time.Now().UTC(),
	}
}
