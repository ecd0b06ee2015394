package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lingodoc/lingodoc-go/pkg/log"
)

var (
	// ErrProviderUnavailable marks a refresh failure with no previous token
	// to fall back to. Callers should treat the session as unauthenticated.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrSignedOut is returned once the manager has been closed.
	ErrSignedOut = errors.New("session signed out")
)

const (
	// DefaultSafetyMargin is subtracted from the token lifetime when deciding
	// whether a cached token is still usable.
	DefaultSafetyMargin = 10 * time.Second

	// DefaultForceCooldown bounds how often a forced refresh actually hits
	// the identity provider. Within the window callers get the cached token.
	DefaultForceCooldown = 30 * time.Second

	// activityCoalesce limits how often the activity stamp is rewritten.
	activityCoalesce = 5 * time.Second

	proactiveTimeout = 30 * time.Second
)

// Config tunes the manager. Zero values fall back to the defaults above.
type Config struct {
	SafetyMargin  time.Duration
	ForceCooldown time.Duration

	// ProactiveRefresh arms a one-shot timer that renews the token shortly
	// before expiry. Off by default: the poller traffic keeps tokens warm on
	// its own, and idle sessions should not wake the identity provider.
	ProactiveRefresh bool

	// IdleAfter suppresses proactive refreshes once the session has seen no
	// request activity for this long. Only consulted when ProactiveRefresh
	// is on.
	IdleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.ForceCooldown <= 0 {
		c.ForceCooldown = DefaultForceCooldown
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 10 * time.Minute
	}
	return c
}

// Manager owns the current session token and refreshes it through the
// provider. Concurrent refresh requests are coalesced into a single provider
// call; every waiter receives the same result.
type Manager struct {
	provider Provider
	cfg      Config

	sf singleflight.Group

	mu           sync.Mutex
	current      *Token
	lastForceAt  time.Time
	lastActivity time.Time
	refreshTimer *time.Timer
	closed       bool
}

func NewManager(provider Provider, cfg Config) *Manager {
	return &Manager{
		provider: provider,
		cfg:      cfg.withDefaults(),
	}
}

// Current returns the cached token without triggering a refresh. May be nil.
func (m *Manager) Current() *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// GetValidToken returns the cached token when it still has more than the
// safety margin of lifetime left, and refreshes otherwise. This is the only
// entry point request paths should use.
func (m *Manager) GetValidToken(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	cur := m.current
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrSignedOut
	}
	if cur.ValidFor(time.Now(), m.cfg.SafetyMargin) {
		return cur, nil
	}
	return m.refresh(ctx)
}

// ForceRefresh discards the cached token and fetches a new one, e.g. after
// the server rejected a request with 401. Repeated forces within the cooldown
// window return the cached token instead of stampeding the provider.
func (m *Manager) ForceRefresh(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSignedOut
	}
	withinCooldown := !m.lastForceAt.IsZero() && time.Since(m.lastForceAt) < m.cfg.ForceCooldown
	cur := m.current
	if withinCooldown && cur != nil {
		m.mu.Unlock()
		log.Debug("Force refresh within cooldown, reusing cached token")
		return cur, nil
	}
	m.lastForceAt = time.Now()
	m.mu.Unlock()

	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (*Token, error) {
	v, err, _ := m.sf.Do("refresh", func() (any, error) {
		raw, err := m.provider.IssueToken(ctx)
		if err != nil {
			return nil, err
		}
		tok, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("provider returned an undecodable token: %w", err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrSignedOut
		}
		m.current = tok
		m.mu.Unlock()

		log.Debug("Session token refreshed, expires %s", tok.ExpiresAt.Format(time.RFC3339))
		m.armProactiveRefresh(tok)
		return tok, nil
	})
	if err != nil {
		if errors.Is(err, ErrSignedOut) {
			return nil, err
		}
		// Prefer a stale token over failing the caller outright: the server
		// will answer 401 if it is truly unusable, and that path forces a
		// fresh refresh attempt anyway.
		m.mu.Lock()
		cur := m.current
		m.mu.Unlock()
		if cur != nil {
			log.Warn("Token refresh failed, keeping previous token: %v", err)
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, err.Error())
	}
	return v.(*Token), nil
}

// armProactiveRefresh schedules a single renewal shortly before the token
// expires. Re-arming cancels the previous timer, so at most one renewal is
// pending per manager.
func (m *Manager) armProactiveRefresh(tok *Token) {
	if !m.cfg.ProactiveRefresh || tok == nil || tok.ExpiresAt.IsZero() {
		return
	}
	delay := tok.Remaining(time.Now()) - m.cfg.SafetyMargin
	if delay < time.Second {
		delay = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(delay, m.proactiveRefresh)
}

func (m *Manager) proactiveRefresh() {
	m.mu.Lock()
	closed := m.closed
	idle := !m.lastActivity.IsZero() && time.Since(m.lastActivity) > m.cfg.IdleAfter
	m.mu.Unlock()

	if closed {
		return
	}
	if idle {
		log.Debug("Session idle, skipping proactive token refresh")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), proactiveTimeout)
	defer cancel()
	if _, err := m.refresh(ctx); err != nil {
		log.Warn("Proactive token refresh failed: %v", err)
	}
}

// Touch records request activity. Stamps closer together than the coalescing
// window are dropped to keep the hot path cheap.
func (m *Manager) Touch() {
	now := time.Now()
	m.mu.Lock()
	if now.Sub(m.lastActivity) >= activityCoalesce {
		m.lastActivity = now
	}
	m.mu.Unlock()
}

// LastActivity returns the coarse timestamp of the most recent request.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Close signs the session out: the cached token is dropped and any pending
// proactive refresh is cancelled. Subsequent token requests fail with
// ErrSignedOut.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.current = nil
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}
