package translation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// PollerState describes the polling lifecycle, not the job itself: a job can
// be failed while the poller is done, or in_progress while the poller has
// timed out waiting for the network to come back.
type PollerState string

const (
	PollerIdle    PollerState = "idle"
	PollerPolling PollerState = "polling"
	// PollerStalled is a view-level substate of polling, reported by Snapshot
	// when no update has arrived for a while. The loop itself keeps polling.
	PollerStalled   PollerState = "stalled"
	PollerDone      PollerState = "done"
	PollerTimedOut  PollerState = "timed_out"
	PollerCancelled PollerState = "cancelled"
)

// PollerConfig tunes the backoff controller. Zero fields fall back to the
// defaults below, except Jitter, where zero genuinely means no jitter.
type PollerConfig struct {
	// Base intervals by job phase. Early phases change state quickly
	// (queued to started), late-stage large documents move slowly.
	PendingInterval time.Duration // default 1.5s
	EarlyInterval   time.Duration // progress < 25%, default 2s
	MidInterval     time.Duration // progress < 75%, default 3s
	LateInterval    time.Duration // progress >= 75%, default 5s

	MinInterval time.Duration // floor for any computed interval, default 1s
	MaxBackoff  time.Duration // cap for the failure contribution, default 15s
	Jitter      time.Duration // +-window added to each interval, default 500ms via DefaultPollerConfig

	StallAfter       time.Duration // silence before the stalled substate, default 30s
	SimulatedStep    time.Duration // cadence of the display-only estimate, default 2s per point
	SimulatedCeiling int           // default 90
	StuckAfter       time.Duration // silence before a forced off-schedule check, default 3m

	FailureCeiling int // consecutive failures before giving up, default 20

	// OnUpdate is called with a fresh snapshot after every applied change.
	OnUpdate func(JobView)
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Jitter: 500 * time.Millisecond}.withDefaults()
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.PendingInterval <= 0 {
		c.PendingInterval = 1500 * time.Millisecond
	}
	if c.EarlyInterval <= 0 {
		c.EarlyInterval = 2 * time.Second
	}
	if c.MidInterval <= 0 {
		c.MidInterval = 3 * time.Second
	}
	if c.LateInterval <= 0 {
		c.LateInterval = 5 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 30 * time.Second
	}
	if c.SimulatedStep <= 0 {
		c.SimulatedStep = 2 * time.Second
	}
	if c.SimulatedCeiling <= 0 {
		c.SimulatedCeiling = 90
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 3 * time.Minute
	}
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = 20
	}
	return c
}

func (c PollerConfig) baseInterval(status Status, progress int) time.Duration {
	switch status {
	case StatusInProgress, StatusPartial:
		switch {
		case progress < 25:
			return c.EarlyInterval
		case progress < 75:
			return c.MidInterval
		default:
			return c.LateInterval
		}
	default:
		return c.PendingInterval
	}
}

// failureBackoff grows exponentially with the consecutive-failure count and
// is capped separately from the base interval.
func (c PollerConfig) failureBackoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	shift := failures - 1
	if shift > 6 {
		shift = 6
	}
	d := c.MinInterval << shift
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// JobView is a point-in-time snapshot handed to readers. DisplayProgress is
// what a progress bar should show; when Estimated is set it is the derived
// stall-filler value, not something the server reported.
type JobView struct {
	Job
	State           PollerState
	Failures        int
	StuckAdvisory   bool
	DisplayProgress int
	Estimated       bool
}

// Poller drives the status loop for one job. One goroutine owns one timer;
// every cycle applies the response under the mutex and re-arms. Cancel and
// Stop invalidate the generation so a late in-flight response is discarded
// without mutating state.
type Poller struct {
	backend Backend
	store   SnapshotStore
	cfg     PollerConfig

	mu              sync.Mutex
	job             Job
	state           PollerState
	failures        int
	gen             int
	lastUpdate      time.Time
	initialProgress int
	progressMoved   bool
	stuckAdvisory   bool
	unknownStatus   string
	runCancel       context.CancelFunc
	doneCh          chan struct{}
	doneClosed      bool
	rng             *rand.Rand
}

// NewPoller tracks the given job. store may be nil when snapshot caching is
// not wanted.
func NewPoller(backend Backend, store SnapshotStore, job Job, cfg PollerConfig) *Poller {
	return &Poller{
		backend: backend,
		store:   store,
		cfg:     cfg.withDefaults(),
		job:     job,
		state:   PollerIdle,
		doneCh:  make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins polling. The first status request goes out immediately.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.state != PollerIdle {
		p.mu.Unlock()
		return
	}
	p.state = PollerPolling
	p.gen++
	gen := p.gen
	p.lastUpdate = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	p.runCancel = cancel
	jobID := p.job.ID
	p.mu.Unlock()

	log.Info("Polling status for job %s", jobID)
	go p.loop(ctx, gen)
}

// Resume re-enters polling after the failure ceiling forced a timeout. The
// job id is reused; nothing is resubmitted. Returns false when the poller is
// not in the timed-out state.
func (p *Poller) Resume() bool {
	p.mu.Lock()
	if p.state != PollerTimedOut {
		p.mu.Unlock()
		return false
	}
	p.state = PollerPolling
	p.gen++
	gen := p.gen
	p.failures = 0
	p.stuckAdvisory = false
	p.lastUpdate = time.Now()
	p.doneCh = make(chan struct{})
	p.doneClosed = false
	ctx, cancel := context.WithCancel(context.Background())
	p.runCancel = cancel
	jobID := p.job.ID
	p.mu.Unlock()

	log.Info("Resuming status polling for job %s", jobID)
	go p.loop(ctx, gen)
	return true
}

// Cancel stops scheduling synchronously and marks the job cancelled. An
// in-flight status response arriving afterwards is discarded.
func (p *Poller) Cancel() {
	p.mu.Lock()
	switch p.state {
	case PollerDone, PollerCancelled, PollerTimedOut:
		p.mu.Unlock()
		return
	}
	p.gen++
	p.job.Status = StatusCancelled
	p.job.LastStatusAt = time.Now()
	if p.runCancel != nil {
		p.runCancel()
	}
	p.finishLocked(PollerCancelled)
	snapshot := p.job
	p.mu.Unlock()

	log.Info("Polling cancelled for job %s", snapshot.ID)
	p.persist(snapshot)
	p.notify()
}

// Stop tears the loop down without touching job state, for session shutdown.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.gen++
	if p.runCancel != nil {
		p.runCancel()
	}
	if p.state == PollerPolling {
		p.state = PollerIdle
	}
	p.mu.Unlock()
}

// Done is closed once the poller reaches done, timed out or cancelled.
// Resume swaps in a fresh channel.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

// Snapshot returns the current view. The stalled substate and the simulated
// progress estimate are derived here and never stored: the instant a real
// update lands they vanish on their own.
func (p *Poller) Snapshot() JobView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked(time.Now())
}

func (p *Poller) viewLocked(now time.Time) JobView {
	view := JobView{
		Job:             p.job,
		State:           p.state,
		Failures:        p.failures,
		StuckAdvisory:   p.stuckAdvisory,
		DisplayProgress: p.job.Progress,
	}
	if p.job.Status == StatusCompleted {
		view.DisplayProgress = 100
	}

	if p.state == PollerPolling && p.job.Status == StatusInProgress && !p.progressMoved {
		silence := now.Sub(p.lastUpdate)
		if silence > p.cfg.StallAfter {
			view.State = PollerStalled
			est := p.job.Progress + int((silence-p.cfg.StallAfter)/p.cfg.SimulatedStep)
			if est > p.cfg.SimulatedCeiling {
				est = p.cfg.SimulatedCeiling
			}
			if est > view.DisplayProgress {
				view.DisplayProgress = est
				view.Estimated = true
			}
		}
	}
	return view
}

func (p *Poller) loop(ctx context.Context, gen int) {
	timer := time.NewTimer(0) // first poll goes out immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !p.pollOnce(ctx, gen) {
			return
		}
		timer.Reset(p.nextWake())
	}
}

func (p *Poller) pollOnce(ctx context.Context, gen int) bool {
	p.mu.Lock()
	if p.gen != gen || p.state != PollerPolling {
		p.mu.Unlock()
		return false
	}
	jobID := p.job.ID
	if time.Since(p.lastUpdate) > p.cfg.StuckAfter && !p.stuckAdvisory {
		p.stuckAdvisory = true
		log.Warn("Job %s: no status update for over %s, forcing an extra check", jobID, p.cfg.StuckAfter)
	}
	p.mu.Unlock()

	st, err := p.backend.JobStatus(ctx, jobID)

	p.mu.Lock()
	if p.gen != gen || p.state != PollerPolling {
		// Late response after Cancel or Stop: no state mutation.
		p.mu.Unlock()
		return false
	}

	var (
		snapshot Job
		cont     bool
		changed  bool
	)
	if err != nil {
		cont = p.applyFailureLocked(err)
		changed = !cont
		snapshot = p.job
	} else {
		snapshot, cont = p.applyStatusLocked(st)
		changed = true
	}
	p.mu.Unlock()

	if changed {
		p.persist(snapshot)
		p.notify()
	}
	return cont
}

func (p *Poller) applyFailureLocked(err error) bool {
	if api.IsKind(err, api.ErrJobNotFound) {
		p.job.Status = StatusFailed
		p.job.Error = "translation job not found; it may have expired"
		p.job.LastStatusAt = time.Now()
		p.finishLocked(PollerDone)
		log.Warn("Job %s no longer exists on the server", p.job.ID)
		return false
	}

	p.failures++
	if p.failures > p.cfg.FailureCeiling {
		p.job.Status = StatusTimeout
		p.job.LastStatusAt = time.Now()
		p.finishLocked(PollerTimedOut)
		log.Warn("Job %s: giving up after %d consecutive poll failures, job id retained for manual retry",
			p.job.ID, p.failures)
		return false
	}

	log.Debug("Job %s: status check failed (%d/%d): %v", p.job.ID, p.failures, p.cfg.FailureCeiling, err)
	return true
}

func (p *Poller) applyStatusLocked(st *api.JobStatus) (Job, bool) {
	now := time.Now()
	p.failures = 0
	p.stuckAdvisory = false
	p.lastUpdate = now
	p.job.LastStatusAt = now

	newStatus, known := ParseStatus(st.Status)
	if !known {
		if st.Status != p.unknownStatus {
			p.unknownStatus = st.Status
			log.Warn("Job %s: unknown status %q from server, keeping previous state", p.job.ID, st.Status)
		}
		return p.job, true
	}

	prog := st.Progress
	if prog < 0 {
		prog = 0
	}
	if prog > 100 {
		prog = 100
	}
	if newStatus == StatusInProgress {
		if p.job.Status != StatusInProgress {
			p.initialProgress = prog
			p.progressMoved = false
		}
		if prog > p.initialProgress {
			p.progressMoved = true
		}
		// Progress is monotonic while in_progress; estimates shown during a
		// stall live only in the snapshot view, so nothing to roll back here.
		if prog < p.job.Progress {
			prog = p.job.Progress
		}
	}

	p.job.Status = newStatus
	p.job.Progress = prog
	p.job.CurrentPage = st.CompletedPages
	if st.TotalPages > 0 {
		p.job.TotalPages = st.TotalPages
	}
	if st.Error != "" {
		p.job.Error = st.Error
	}
	if newStatus == StatusCompleted {
		p.job.Progress = 100
	}

	if newStatus.Terminal() {
		p.finishLocked(PollerDone)
		log.Info("Job %s finished with status %s", p.job.ID, newStatus)
		return p.job, false
	}
	return p.job, true
}

func (p *Poller) finishLocked(state PollerState) {
	p.state = state
	if p.runCancel != nil {
		p.runCancel()
	}
	if !p.doneClosed {
		close(p.doneCh)
		p.doneClosed = true
	}
}

// nextWake computes the delay before the next status request and truncates
// it to the stuck deadline so a silent job still gets an off-schedule check.
func (p *Poller) nextWake() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	iv := p.cfg.baseInterval(p.job.Status, p.job.Progress)
	iv += p.cfg.failureBackoff(p.failures)
	if j := p.cfg.Jitter; j > 0 {
		iv += time.Duration(p.rng.Int63n(int64(2*j+1))) - j
	}
	if iv < p.cfg.MinInterval {
		iv = p.cfg.MinInterval
	}

	if !p.lastUpdate.IsZero() {
		if until := time.Until(p.lastUpdate.Add(p.cfg.StuckAfter)); until < iv {
			if until < p.cfg.MinInterval {
				until = p.cfg.MinInterval
			}
			iv = until
		}
	}
	return iv
}

func (p *Poller) persist(job Job) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveJobSnapshot(context.Background(), job); err != nil {
		log.Warn("Failed to cache status for job %s: %v", job.ID, err)
	}
}

func (p *Poller) notify() {
	if p.cfg.OnUpdate == nil {
		return
	}
	p.cfg.OnUpdate(p.Snapshot())
}
