// Package ratelimit enforces the request budget against the classification
// service: no more than N request starts within any rolling window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most `limit` request starts within any rolling window of
// `window` duration. The invariant is strict: it holds over every possible
// window position, not just fixed minute boundaries, so a token bucket is not
// a substitute.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	starts []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter admitting limit starts per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// PerMinute creates a limiter admitting rpm starts per rolling 60 seconds.
func PerMinute(rpm int) *Limiter {
	return New(rpm, time.Minute)
}

// Acquire blocks until a request may start, then records the start. Returns
// the context's error if it is cancelled while waiting. Waiters are admitted
// in whatever order they win the lock; fairness is not guaranteed, only the
// window invariant.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		if len(l.starts) < l.limit {
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.starts[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			// Clock moved between evict and the wait computation; retry.
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Pending reports how many starts currently count against the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.starts)
}

// evict drops start records older than one window. Caller holds the lock.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
