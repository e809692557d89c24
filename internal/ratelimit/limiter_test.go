//nolint:testpackage // testing internal clock hooks
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically. Sleeping advances the clock.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	err error
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := New(limit, window)
	l.now = clock.now
	l.sleep = clock.sleep
	return l, clock
}

func TestAcquireUnderLimit(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	start := clock.now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if clock.now() != start {
		t.Error("acquires under the limit should not wait")
	}
	if got := l.Pending(); got != 3 {
		t.Errorf("expected 3 pending starts, got %d", got)
	}
}

func TestAcquireBlocksAtLimit(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	start := clock.now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// The third start must wait until the first record falls out of the window.
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	waited := clock.now().Sub(start)
	if waited < time.Minute {
		t.Errorf("third acquire admitted after %v, expected at least %v", waited, time.Minute)
	}
}

func TestAcquireAfterWindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	clock.advance(61 * time.Second)

	before := clock.now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if clock.now() != before {
		t.Error("acquire after window expiry should not wait")
	}
	if got := l.Pending(); got != 1 {
		t.Errorf("expected 1 pending start after eviction, got %d", got)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	clock.err = context.Canceled
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRollingWindowInvariant(t *testing.T) {
	const limit = 5
	l, clock := newTestLimiter(limit, time.Minute)
	ctx := context.Background()

	// Record every admitted start, then verify no 60s window holds more
	// than the limit.
	var starts []time.Time
	for i := 0; i < 23; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
		starts = append(starts, clock.now())
		if i%3 == 0 {
			clock.advance(7 * time.Second)
		}
	}

	for i := range starts {
		count := 0
		for j := i; j < len(starts); j++ {
			if starts[j].Sub(starts[i]) < time.Minute {
				count++
			}
		}
		if count > limit {
			t.Fatalf("window starting at %v admitted %d starts, limit is %d",
				starts[i], count, limit)
		}
	}
}

func TestConcurrentAcquires(t *testing.T) {
	l := PerMinute(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := l.Pending(); got != 50 {
		t.Errorf("expected 50 pending starts, got %d", got)
	}
}
