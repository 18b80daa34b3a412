// Package ratelimit provides per-collaborator request budgets for the
// pipeline's external calls. The Redis backend gives atomic cross-host
// budgets; the local backend covers single-node and test deployments.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Limit defines request budgets across fixed windows. A zero window is
// not enforced.
type Limit struct {
	PerSecond int
	PerMinute int
	PerHour   int
}

// Enforced reports whether any window is configured.
func (l Limit) Enforced() bool {
	return l.PerSecond > 0 || l.PerMinute > 0 || l.PerHour > 0
}

// Limiter atomically checks and consumes budget slots.
type Limiter interface {
	// Allow consumes n slots for key if every configured window has
	// room. When denied, wait hints how long until the tightest window
	// reopens.
	Allow(ctx context.Context, key string, lim Limit, n int) (allowed bool, wait time.Duration, err error)
}

// ErrBudgetExhausted is returned by Wait when the budget will not reopen
// within the caller's patience. Treated as a transient stage failure.
var ErrBudgetExhausted = errors.New("rate budget exhausted")

// Wait blocks until one slot for key is granted, ctx is done, or the
// cumulative wait would exceed maxWait.
func Wait(ctx context.Context, l Limiter, key string, lim Limit, maxWait time.Duration) error {
	if !lim.Enforced() {
		return nil
	}

	var waited time.Duration
	for {
		allowed, wait, err := l.Allow(ctx, key, lim, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if wait <= 0 {
			wait = time.Second
		}
		waited += wait
		if maxWait > 0 && waited > maxWait {
			return ErrBudgetExhausted
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DefaultMaxWait bounds how long a pipeline worker is parked on a
// depleted budget before the attempt is handed back to the retry policy.
const DefaultMaxWait = 2 * time.Minute

// Registry maps collaborator names to their configured budgets over a
// shared Limiter backend.
type Registry struct {
	limiter Limiter
	limits  map[string]Limit
}

// NewRegistry builds a registry. Collaborators missing from limits run
// unthrottled.
func NewRegistry(l Limiter, limits map[string]Limit) *Registry {
	if limits == nil {
		limits = make(map[string]Limit)
	}
	return &Registry{limiter: l, limits: limits}
}

// Acquire takes one budget slot for the named collaborator, blocking up
// to DefaultMaxWait.
func (r *Registry) Acquire(ctx context.Context, collaborator string) error {
	return Wait(ctx, r.limiter, collaborator, r.limits[collaborator], DefaultMaxWait)
}

// AcquireScoped takes one slot against an ad-hoc limit under a scoped
// key, e.g. a campaign's own send cap layered over the global dispatch
// budget.
func (r *Registry) AcquireScoped(ctx context.Context, collaborator, scope string, lim Limit) error {
	return Wait(ctx, r.limiter, collaborator+":"+scope, lim, DefaultMaxWait)
}

// Limits returns the configured budget for a collaborator.
func (r *Registry) Limits(collaborator string) Limit {
	return r.limits[collaborator]
}
