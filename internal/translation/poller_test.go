package translation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingodoc/lingodoc-go/internal/api"
)

func fastPollerConfig() PollerConfig {
	return PollerConfig{
		PendingInterval:  5 * time.Millisecond,
		EarlyInterval:    5 * time.Millisecond,
		MidInterval:      5 * time.Millisecond,
		LateInterval:     5 * time.Millisecond,
		MinInterval:      2 * time.Millisecond,
		MaxBackoff:       10 * time.Millisecond,
		StallAfter:       time.Hour,
		SimulatedStep:    10 * time.Millisecond,
		SimulatedCeiling: 90,
		StuckAfter:       time.Hour,
		FailureCeiling:   100,
	}
}

func pollErr() error {
	return api.WrapError(errors.New("dial tcp: timeout"), api.ErrNetworkTimeout, "request timed out")
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not finish in time")
	}
}

func TestPollerRunsJobToCompletion(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			assert.Equal(t, "job-1", jobID)
			switch call {
			case 1:
				return &api.JobStatus{JobID: jobID, Status: "pending"}, nil
			case 2:
				return &api.JobStatus{JobID: jobID, Status: "in_progress", Progress: 30, TotalPages: 10, CompletedPages: 3}, nil
			case 3:
				return &api.JobStatus{JobID: jobID, Status: "in_progress", Progress: 70, TotalPages: 10, CompletedPages: 7}, nil
			default:
				return &api.JobStatus{JobID: jobID, Status: "completed", Progress: 100, TotalPages: 10, CompletedPages: 10}, nil
			}
		},
	}
	store := &fakeStore{}
	p := NewPoller(backend, store, Job{ID: "job-1", Status: StatusPending}, fastPollerConfig())

	p.Start()
	waitDone(t, p)

	view := p.Snapshot()
	assert.Equal(t, PollerDone, view.State)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, 100, view.DisplayProgress)
	assert.Equal(t, 10, view.TotalPages)

	last, ok := store.lastSave()
	require.True(t, ok, "every update lands in the snapshot cache")
	assert.Equal(t, StatusCompleted, last.Status)

	calls := backend.statusCallCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, backend.statusCallCount(), "no timers armed after a terminal status")
}

func TestPollerProgressIsMonotonic(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			switch call {
			case 1:
				return &api.JobStatus{Status: "in_progress", Progress: 50}, nil
			case 2:
				return &api.JobStatus{Status: "in_progress", Progress: 40}, nil // server wobble
			case 3:
				return &api.JobStatus{Status: "in_progress", Progress: 60}, nil
			default:
				return &api.JobStatus{Status: "completed", Progress: 100}, nil
			}
		},
	}
	store := &fakeStore{}
	p := NewPoller(backend, store, Job{ID: "job-1", Status: StatusPending}, fastPollerConfig())

	p.Start()
	waitDone(t, p)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.saves)
	prev := -1
	for _, saved := range store.saves {
		assert.GreaterOrEqual(t, saved.Progress, prev, "progress must never go backwards while in_progress")
		prev = saved.Progress
	}
}

func TestPollerGivesUpAtFailureCeiling(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			return nil, pollErr()
		},
	}
	cfg := fastPollerConfig()
	cfg.FailureCeiling = 3
	p := NewPoller(backend, nil, Job{ID: "job-9", Status: StatusInProgress, Progress: 10}, cfg)

	p.Start()
	waitDone(t, p)

	view := p.Snapshot()
	assert.Equal(t, PollerTimedOut, view.State)
	assert.Equal(t, StatusTimeout, view.Status)
	assert.Equal(t, "job-9", view.ID, "job id retained for manual retry")
	assert.Equal(t, 4, backend.statusCallCount(), "ceiling 3 means the fourth failure stops polling")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, backend.statusCallCount(), "no further polls after giving up")
}

func TestPollerResumeAfterTimeout(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			return nil, pollErr()
		},
	}
	cfg := fastPollerConfig()
	cfg.FailureCeiling = 2
	p := NewPoller(backend, nil, Job{ID: "job-9", Status: StatusInProgress}, cfg)

	assert.False(t, p.Resume(), "resume only applies to timed-out pollers")

	p.Start()
	waitDone(t, p)
	require.Equal(t, PollerTimedOut, p.Snapshot().State)

	// Network is back; the same job id resumes without resubmission.
	backend.setStatusFn(func(call int, jobID string) (*api.JobStatus, error) {
		return &api.JobStatus{Status: "completed", Progress: 100}, nil
	})
	require.True(t, p.Resume())
	waitDone(t, p)

	view := p.Snapshot()
	assert.Equal(t, PollerDone, view.State)
	assert.Equal(t, StatusCompleted, view.Status)
}

func TestPollerCancelDiscardsLateResponse(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			if call == 1 {
				close(started)
				<-release
				return &api.JobStatus{Status: "in_progress", Progress: 77}, nil
			}
			return nil, fmt.Errorf("no further polls expected")
		},
	}
	p := NewPoller(backend, nil, Job{ID: "job-5", Status: StatusPending}, fastPollerConfig())

	p.Start()
	<-started
	p.Cancel()

	// Cancel is synchronous: done fires before the in-flight response lands.
	waitDone(t, p)

	close(release)
	time.Sleep(30 * time.Millisecond)

	view := p.Snapshot()
	assert.Equal(t, PollerCancelled, view.State)
	assert.Equal(t, StatusCancelled, view.Status)
	assert.Equal(t, 0, view.Progress, "the late 77%% response must be discarded")
	assert.Equal(t, 1, backend.statusCallCount())
}

func TestPollerStallShowsSimulatedProgress(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			if call == 1 {
				return &api.JobStatus{Status: "in_progress", Progress: 5}, nil
			}
			return nil, pollErr()
		},
	}
	cfg := fastPollerConfig()
	cfg.StallAfter = 40 * time.Millisecond
	cfg.SimulatedStep = 10 * time.Millisecond
	p := NewPoller(backend, nil, Job{ID: "job-3", Status: StatusPending}, cfg)

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		view := p.Snapshot()
		return view.State == PollerStalled && view.Estimated && view.DisplayProgress > 5
	}, 2*time.Second, 10*time.Millisecond, "silence while in_progress should surface the stall estimate")

	view := p.Snapshot()
	assert.Equal(t, 5, view.Progress, "the authoritative record never carries the estimate")
	assert.LessOrEqual(t, view.DisplayProgress, 90)

	// A real update discards the estimate immediately.
	backend.setStatusFn(func(call int, jobID string) (*api.JobStatus, error) {
		return &api.JobStatus{Status: "in_progress", Progress: 12}, nil
	})
	require.Eventually(t, func() bool {
		view := p.Snapshot()
		return !view.Estimated && view.State == PollerPolling && view.DisplayProgress == 12
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSimulatedProgressCeiling(t *testing.T) {
	cfg := fastPollerConfig()
	cfg.StallAfter = 30 * time.Second
	cfg.SimulatedStep = 2 * time.Second
	p := NewPoller(&fakeBackend{}, nil, Job{ID: "j", Status: StatusInProgress, Progress: 10}, cfg)

	now := time.Now()
	p.state = PollerPolling
	p.lastUpdate = now.Add(-10 * time.Minute)

	view := p.viewLocked(now)
	assert.Equal(t, PollerStalled, view.State)
	assert.True(t, view.Estimated)
	assert.Equal(t, 90, view.DisplayProgress, "the estimate never exceeds the ceiling")
	assert.Equal(t, 10, view.Progress)

	// Once real progress has moved, silence no longer triggers the estimate.
	p.progressMoved = true
	view = p.viewLocked(now)
	assert.Equal(t, PollerPolling, view.State)
	assert.False(t, view.Estimated)
}

func TestPollerMissingJobBecomesFailed(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			return nil, api.NewError(api.ErrJobNotFound, "job not found")
		},
	}
	p := NewPoller(backend, nil, Job{ID: "job-8", Status: StatusInProgress, Progress: 50}, fastPollerConfig())

	p.Start()
	waitDone(t, p)

	view := p.Snapshot()
	assert.Equal(t, PollerDone, view.State)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Contains(t, view.Error, "not found")
}

func TestPollerToleratesUnknownStatus(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			switch call {
			case 1:
				return &api.JobStatus{Status: "in_progress", Progress: 20}, nil
			case 2:
				return &api.JobStatus{Status: "replicating", Progress: 33}, nil // future server state
			default:
				return &api.JobStatus{Status: "completed", Progress: 100}, nil
			}
		},
	}
	store := &fakeStore{}
	p := NewPoller(backend, store, Job{ID: "job-4", Status: StatusPending}, fastPollerConfig())

	p.Start()
	waitDone(t, p)

	assert.Equal(t, StatusCompleted, p.Snapshot().Status)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.GreaterOrEqual(t, len(store.saves), 3)
	assert.Equal(t, StatusInProgress, store.saves[1].Status, "unknown statuses keep the previous state")
	assert.Equal(t, 20, store.saves[1].Progress)
}

func TestPollerStuckAdvisory(t *testing.T) {
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			if call == 1 {
				return &api.JobStatus{Status: "in_progress", Progress: 10}, nil
			}
			return nil, pollErr()
		},
	}
	cfg := fastPollerConfig()
	cfg.StuckAfter = 50 * time.Millisecond
	p := NewPoller(backend, nil, Job{ID: "job-6", Status: StatusPending}, cfg)

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Snapshot().StuckAdvisory
	}, 2*time.Second, 10*time.Millisecond, "prolonged silence should raise the advisory")

	backend.setStatusFn(func(call int, jobID string) (*api.JobStatus, error) {
		return &api.JobStatus{Status: "in_progress", Progress: 11}, nil
	})
	require.Eventually(t, func() bool {
		return !p.Snapshot().StuckAdvisory
	}, 2*time.Second, 10*time.Millisecond, "a successful update clears the advisory")
}

func TestPollerStartIsIdempotent(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		statusFn: func(call int, jobID string) (*api.JobStatus, error) {
			if call == 1 {
				close(started)
				<-release
			}
			return &api.JobStatus{Status: "completed", Progress: 100}, nil
		},
	}
	p := NewPoller(backend, nil, Job{ID: "job-2", Status: StatusPending}, fastPollerConfig())

	p.Start()
	p.Start()
	<-started
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, backend.statusCallCount(), "a second Start must not spawn a second loop")

	close(release)
	waitDone(t, p)
}

func TestBaseIntervalBands(t *testing.T) {
	cfg := PollerConfig{
		PendingInterval: 1 * time.Second,
		EarlyInterval:   2 * time.Second,
		MidInterval:     3 * time.Second,
		LateInterval:    5 * time.Second,
	}
	assert.Equal(t, cfg.PendingInterval, cfg.baseInterval(StatusPending, 0))
	assert.Equal(t, cfg.EarlyInterval, cfg.baseInterval(StatusInProgress, 10))
	assert.Equal(t, cfg.MidInterval, cfg.baseInterval(StatusInProgress, 50))
	assert.Equal(t, cfg.LateInterval, cfg.baseInterval(StatusInProgress, 80))
	assert.Equal(t, cfg.LateInterval, cfg.baseInterval(StatusPartial, 90))
}

func TestFailureBackoffGrowsAndCaps(t *testing.T) {
	cfg := PollerConfig{MinInterval: time.Second, MaxBackoff: 15 * time.Second}

	assert.Equal(t, time.Duration(0), cfg.failureBackoff(0))
	assert.Equal(t, 1*time.Second, cfg.failureBackoff(1))
	assert.Equal(t, 2*time.Second, cfg.failureBackoff(2))
	assert.Equal(t, 4*time.Second, cfg.failureBackoff(3))
	assert.Equal(t, 8*time.Second, cfg.failureBackoff(4))
	assert.Equal(t, 15*time.Second, cfg.failureBackoff(5), "capped at the ceiling")
	assert.Equal(t, 15*time.Second, cfg.failureBackoff(50))
}
