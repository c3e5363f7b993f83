// Package guard implements the access guard: a session-wide latch that stops
// all tracker traffic after a timeout or an authentication failure, so a
// misconfigured client cannot lock the user's account by hammering the API.
//
// Unlike a circuit breaker the guard never closes on its own. It stays
// tripped until Unblock is called, and its state is persisted in the session
// store so reconnecting callers within the same session see it.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/trackerbridge/internal/session"
)

// ErrBlocked is returned by Allow while the guard is tripped.
var ErrBlocked = errors.New("access blocked to prevent being shut out")

const storeTimeout = 2 * time.Second

// Reason explains why the guard tripped.
type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonAuthFailure   Reason = "auth_failure"
	ReasonCookieMissing Reason = "cookie_missing"
	ReasonManual        Reason = "manual"
)

// Options configures a Guard.
type Options struct {
	Store  session.Store
	Logger *zap.Logger
	// OnTrip is called after every trip, including repeated ones.
	OnTrip func(Reason)
	// OnUnblock is called after an explicit unblock.
	OnUnblock func()
}

// Guard is safe for concurrent use.
type Guard struct {
	store     session.Store
	logger    *zap.Logger
	onTrip    func(Reason)
	onUnblock func()

	mu      sync.Mutex
	blocked bool
}

// New creates a guard whose initial state is read from the session store.
func New(opts Options) *Guard {
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	g := &Guard{
		store:     opts.Store,
		logger:    opts.Logger,
		onTrip:    opts.OnTrip,
		onUnblock: opts.OnUnblock,
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, ok, err := g.store.Get(ctx, session.BlockAccessKey); err != nil {
		g.logger.Warn("Failed to read persisted access guard", zap.Error(err))
	} else if ok {
		g.blocked = true
		g.logger.Warn("Access guard restored as blocked from session")
	}
	return g
}

// IsBlocked reports whether the guard is tripped.
func (g *Guard) IsBlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked
}

// Allow returns ErrBlocked while tripped unless force is set. Forcing is
// reserved for credential tests, which must work while blocked.
func (g *Guard) Allow(force bool) error {
	if force || !g.IsBlocked() {
		return nil
	}
	return ErrBlocked
}

// Trip blocks access, persists the flag and drops the cached cookie so the
// next request has to acquire it again.
func (g *Guard) Trip(reason Reason) {
	g.mu.Lock()
	g.blocked = true
	g.mu.Unlock()

	g.logger.Warn("Blocking tracker access", zap.String("reason", string(reason)))

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.store.Set(ctx, session.BlockAccessKey, "true"); err != nil {
		g.logger.Error("Failed to persist access guard", zap.Error(err))
	}
	if err := g.store.Delete(ctx, session.WonkyCookieKey); err != nil {
		g.logger.Error("Failed to clear cached cookie", zap.Error(err))
	}

	if g.onTrip != nil {
		g.onTrip(reason)
	}
}

// Unblock re-enables access and clears the persisted flag and the cached
// cookie.
func (g *Guard) Unblock() {
	g.mu.Lock()
	g.blocked = false
	g.mu.Unlock()

	g.logger.Info("Unblocking tracker access")

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.store.Delete(ctx, session.BlockAccessKey); err != nil {
		g.logger.Error("Failed to clear persisted access guard", zap.Error(err))
	}
	if err := g.store.Delete(ctx, session.WonkyCookieKey); err != nil {
		g.logger.Error("Failed to clear cached cookie", zap.Error(err))
	}

	if g.onUnblock != nil {
		g.onUnblock()
	}
}
