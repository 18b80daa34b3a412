package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter enforces the same fixed-window budgets in process memory.
// Used when Redis is disabled and in tests. Budgets are then per
// instance, not per fleet.
type LocalLimiter struct {
	mu      sync.Mutex
	windows map[string]*localWindows
	now     func() time.Time
}

type localWindows struct {
	secBucket  int64
	secCount   int
	minBucket  int64
	minCount   int
	hourBucket int64
	hourCount  int
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		windows: make(map[string]*localWindows),
		now:     time.Now,
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(ctx context.Context, key string, lim Limit, n int) (bool, time.Duration, error) {
	if !lim.Enforced() {
		return true, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	now := l.now()
	sec := now.Unix()
	min := sec / 60
	hour := sec / 3600

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &localWindows{}
		l.windows[key] = w
	}
	if w.secBucket != sec {
		w.secBucket, w.secCount = sec, 0
	}
	if w.minBucket != min {
		w.minBucket, w.minCount = min, 0
	}
	if w.hourBucket != hour {
		w.hourBucket, w.hourCount = hour, 0
	}

	// Check every window before consuming anything.
	if lim.PerSecond > 0 && w.secCount+n > lim.PerSecond {
		return false, time.Second, nil
	}
	if lim.PerMinute > 0 && w.minCount+n > lim.PerMinute {
		return false, time.Duration(60-now.Second()) * time.Second, nil
	}
	if lim.PerHour > 0 && w.hourCount+n > lim.PerHour {
		return false, time.Duration(60-now.Minute()) * time.Minute, nil
	}

	w.secCount += n
	w.minCount += n
	w.hourCount += n
	return true, 0, nil
}
