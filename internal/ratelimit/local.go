package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one token bucket per key in process memory. Buckets
// idle for longer than the eviction age are dropped.
type LocalLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*limiterEntry
	idleAfter   time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter allows burst immediate hits per key refilled at r per
// second.
func NewLocalLimiter(r rate.Limit, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{
		limit:       r,
		burst:       burst,
		limiters:    make(map[string]*limiterEntry),
		idleAfter:   10 * time.Minute,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// NewWindowLimiter allows limit hits per window per key.
func NewWindowLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit < 1 {
		limit = 1
	}
	return NewLocalLimiter(rate.Every(window/time.Duration(limit)), limit)
}

// NewPerSecondLimiter allows perSecond hits per second per key with a
// burst of one second's worth.
func NewPerSecondLimiter(perSecond float64) *LocalLimiter {
	return NewLocalLimiter(rate.Limit(perSecond), int(math.Ceil(perSecond)))
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	now := l.now()
	limiter := l.limiterFor(key, now)

	d := Decision{Limit: l.burst}
	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		d.RetryAfter = delay
	} else {
		d.Allowed = true
	}
	d.Remaining = int(limiter.TokensAt(now))
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

func (l *LocalLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.idleAfter {
		for k, entry := range l.limiters {
			if now.Sub(entry.lastUsed) > l.idleAfter {
				delete(l.limiters, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// Len reports the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
