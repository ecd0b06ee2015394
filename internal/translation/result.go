package translation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// FetchOutcome is the answer to one result request. Exactly one of Doc and
// ShouldResume is meaningful: a nil Doc with ShouldResume set means the
// translation is still running and the caller should re-enter polling
// instead of treating this as an error.
type FetchOutcome struct {
	Doc          *api.ResultDocument
	ShouldResume bool
}

// Fetcher downloads translated documents. Concurrent fetches for the same
// (job id, allowPartial) pair are deduplicated: late callers attach to the
// in-flight request and share its outcome.
type Fetcher struct {
	backend Backend
	sf      singleflight.Group
	timeout time.Duration
}

func NewFetcher(backend Backend, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{backend: backend, timeout: timeout}
}

// Fetch retrieves the translated document. With allowPartial set, a
// not-ready answer for the full document falls back to the partial artifact
// before giving up.
func (f *Fetcher) Fetch(ctx context.Context, jobID string, allowPartial bool) (*FetchOutcome, error) {
	key := fmt.Sprintf("%s|partial=%t", jobID, allowPartial)
	v, err, shared := f.sf.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return f.fetch(fctx, jobID, allowPartial)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("Result fetch for job %s shared an in-flight request", jobID)
	}
	return v.(*FetchOutcome), nil
}

func (f *Fetcher) fetch(ctx context.Context, jobID string, allowPartial bool) (*FetchOutcome, error) {
	doc, err := f.backend.FetchResult(ctx, jobID, false)
	if err == nil {
		return &FetchOutcome{Doc: doc}, nil
	}
	if api.IsKind(err, api.ErrJobNotFound) {
		return nil, api.WrapError(err, api.ErrJobNotFound, "translation job expired or unknown")
	}
	if !api.IsKind(err, api.ErrJobNotReady) {
		return nil, err
	}

	if !allowPartial {
		// Not ready and partials not wanted: hand control back to the poller.
		return &FetchOutcome{ShouldResume: true}, nil
	}

	log.Info("Full result for job %s not ready, trying the partial artifact", jobID)
	pdoc, perr := f.backend.FetchResult(ctx, jobID, true)
	if perr == nil {
		return &FetchOutcome{Doc: pdoc}, nil
	}
	if api.IsKind(perr, api.ErrJobNotReady) {
		return &FetchOutcome{ShouldResume: true}, nil
	}
	return nil, perr
}
