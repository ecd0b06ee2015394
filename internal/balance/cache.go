package balance

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// DefaultTTL is how long a fetched balance stays fresh.
const DefaultTTL = 15 * time.Second

// fallback is served when the endpoint fails and nothing was ever cached.
// A plausible small quota beats an error screen for a read-only display.
var fallback = api.BalanceInfo{PagesBalance: 10, PagesUsed: 0, IsDefault: true}

// Backend is the slice of the HTTP client the cache needs.
type Backend interface {
	Balance(ctx context.Context) (*api.BalanceInfo, error)
	AddPages(ctx context.Context, pages int) (*api.BalanceInfo, error)
}

// Info is a balance reading plus its provenance. Stale marks values that
// could not be confirmed against the server just now.
type Info struct {
	api.BalanceInfo
	Stale     bool
	FetchedAt time.Time
}

// Cache keeps the page quota warm. Reads inside the TTL never hit the
// network; concurrent misses share one fetch; failures degrade to the last
// good value instead of erroring.
type Cache struct {
	backend Backend
	ttl     time.Duration
	sf      singleflight.Group

	mu        sync.Mutex
	current   *api.BalanceInfo
	fetchedAt time.Time
}

func NewCache(backend Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{backend: backend, ttl: ttl}
}

// Get returns the cached balance within the TTL, fetching otherwise. It
// never returns an error: on fetch failure the last good value (or the hard
// default) comes back flagged stale.
func (c *Cache) Get(ctx context.Context) Info {
	c.mu.Lock()
	if c.current != nil && time.Since(c.fetchedAt) < c.ttl {
		info := Info{BalanceInfo: *c.current, FetchedAt: c.fetchedAt}
		c.mu.Unlock()
		return info
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("balance", func() (any, error) {
		fresh, err := c.backend.Balance(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		c.mu.Lock()
		c.current = fresh
		c.fetchedAt = now
		c.mu.Unlock()
		return Info{BalanceInfo: *fresh, FetchedAt: now}, nil
	})
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != nil {
			log.Warn("Balance fetch failed, serving the last known value: %v", err)
			return Info{BalanceInfo: *c.current, FetchedAt: c.fetchedAt, Stale: true}
		}
		log.Warn("Balance fetch failed with nothing cached, serving defaults: %v", err)
		return Info{BalanceInfo: fallback, Stale: true}
	}
	return v.(Info)
}

// Invalidate expires the cache without dropping the value, so the next Get
// refetches but the stale fallback keeps working. Called after mutating
// operations like submissions.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// AddPages tops up the quota. Mutations surface their errors; only reads
// degrade silently.
func (c *Cache) AddPages(ctx context.Context, pages int) (Info, error) {
	if pages <= 0 {
		return Info{}, api.NewError(api.ErrValidation, "pages to add must be positive")
	}
	fresh, err := c.backend.AddPages(ctx, pages)
	if err != nil {
		return Info{}, err
	}

	now := time.Now()
	c.mu.Lock()
	c.current = fresh
	c.fetchedAt = now
	c.mu.Unlock()

	log.Info("Balance topped up by %d pages, %d available", pages, fresh.PagesBalance)
	return Info{BalanceInfo: *fresh, FetchedAt: now}, nil
}

// LastKnown returns whatever is cached, however old, without any network.
func (c *Cache) LastKnown() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Info{}, false
	}
	stale := time.Since(c.fetchedAt) >= c.ttl
	return Info{BalanceInfo: *c.current, FetchedAt: c.fetchedAt, Stale: stale}, true
}
