// Package lockout locks an identifier out of authentication after too many
// failed attempts inside a short window.
//
// State lives in the shared kv store under two keys per identifier: an
// attempt counter (lockout:<id>, TTL = attempt window) and a lock flag
// (lock:<id>, TTL = lockout duration). The lock clears itself on expiry.
//
// Every operation fails open. When the store cannot be reached the guard
// reports the identifier as unlocked and sets StoreUnavailable on the
// result, so login keeps working during a store outage.
package lockout

import (
	"context"
	"strings"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	DefaultMaxAttempts     = 5
	DefaultAttemptWindow   = 300 * time.Second
	DefaultLockoutDuration = 900 * time.Second

	attemptKeyPrefix = "lockout:"
	lockKeyPrefix    = "lock:"
	lockSentinel     = "1"
)

type AttemptResult struct {
	Locked           bool
	AttemptsLeft     int
	LockedUntil      time.Time
	StoreUnavailable bool
}

type LockStatus struct {
	Locked           bool
	LockedUntil      time.Time
	TimeRemaining    time.Duration
	StoreUnavailable bool
}

type Guard struct {
	store           kv.Store
	maxAttempts     int
	attemptWindow   time.Duration
	lockoutDuration time.Duration
	now             func() time.Time
	logger          *observability.Logger
	metrics         *observability.Metrics
}

type Option func(*Guard)

func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithAttemptWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.attemptWindow = d
		}
	}
}

func WithLockoutDuration(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockoutDuration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(logger *observability.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Guard) { g.metrics = metrics }
}

func NewGuard(store kv.Store, opts ...Option) *Guard {
	g := &Guard{
		store:           store,
		maxAttempts:     DefaultMaxAttempts,
		attemptWindow:   DefaultAttemptWindow,
		lockoutDuration: DefaultLockoutDuration,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordFailedAttempt counts one failed authentication. The counter's TTL is
// set when the increment opens a fresh window, so attempts older than the
// window never reach the threshold. Reaching the threshold (re)sets the lock.
func (g *Guard) RecordFailedAttempt(ctx context.Context, identifier string) AttemptResult {
	id := normalize(identifier)
	now := g.now()

	count, _, err := g.store.IncrEX(ctx, attemptKeyPrefix+id, g.attemptWindow)
	if err != nil {
		g.storeDown("lockout_record_failed", id, err)
		return AttemptResult{AttemptsLeft: g.maxAttempts, StoreUnavailable: true}
	}

	if count < int64(g.maxAttempts) {
		g.metrics.Decision(observability.GateLockout, "attempt")
		return AttemptResult{AttemptsLeft: g.maxAttempts - int(count)}
	}

	if err := g.store.SetEX(ctx, lockKeyPrefix+id, lockSentinel, g.lockoutDuration); err != nil {
		g.storeDown("lockout_lock_failed", id, err)
		return AttemptResult{StoreUnavailable: true}
	}

	g.logger.Warn("lockout_engaged", map[string]any{
		"identifier": id,
		"attempts":   count,
		"duration_s": int(g.lockoutDuration.Seconds()),
	})
	g.metrics.Decision(observability.GateLockout, "locked")
	return AttemptResult{Locked: true, LockedUntil: now.Add(g.lockoutDuration)}
}

// IsAccountLocked reports whether the lock flag is alive. A missing flag or
// a non-positive TTL means unlocked.
func (g *Guard) IsAccountLocked(ctx context.Context, identifier string) LockStatus {
	id := normalize(identifier)

	ttl, err := g.store.TTL(ctx, lockKeyPrefix+id)
	if err != nil {
		g.storeDown("lockout_check_failed", id, err)
		return LockStatus{StoreUnavailable: true}
	}
	if ttl <= 0 {
		return LockStatus{}
	}

	return LockStatus{
		Locked:        true,
		LockedUntil:   g.now().Add(ttl),
		TimeRemaining: ttl,
	}
}

// ClearFailedAttempts resets the identifier after a successful login.
// Failures are logged and swallowed; the keys expire on their own.
func (g *Guard) ClearFailedAttempts(ctx context.Context, identifier string) {
	id := normalize(identifier)
	if err := g.store.Del(ctx, attemptKeyPrefix+id, lockKeyPrefix+id); err != nil {
		g.storeDown("lockout_clear_failed", id, err)
	}
}

// UnlockAccount is the administrative override. Unlike ClearFailedAttempts it
// returns the store error so the operator knows the unlock did not land.
func (g *Guard) UnlockAccount(ctx context.Context, identifier string) error {
	id := normalize(identifier)
	if err := g.store.Del(ctx, attemptKeyPrefix+id, lockKeyPrefix+id); err != nil {
		g.storeDown("lockout_unlock_failed", id, err)
		return err
	}
	g.logger.Info("lockout_unlocked", map[string]any{"identifier": id})
	return nil
}

func (g *Guard) storeDown(event, id string, err error) {
	g.logger.Warn(event, map[string]any{
		"identifier": id,
		"error":      err.Error(),
	})
	g.metrics.StoreUnavailable(observability.GateLockout)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
