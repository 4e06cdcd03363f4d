package forum

import (
	"context"
	"sync"
	"time"
)

// DefaultWriteInterval is the minimum spacing between forum write calls.
const DefaultWriteInterval = 5 * time.Second

// Clock is the slice of the time package the rate limiter needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// RateLimiter spaces write calls at least interval apart, process-wide. One
// shared timestamp records when the previous Wait returned. Waiters are not
// served in FIFO order.
type RateLimiter struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
	clock    Clock
}

func NewRateLimiter(interval time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = RealClock()
	}
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	return &RateLimiter{interval: interval, clock: clock}
}

// Wait blocks until the interval has elapsed since the previous Wait
// returned. The lock is held across the single sleep so two callers can
// never pass within one interval of each other.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		remaining := l.interval - l.clock.Now().Sub(l.last)
		if remaining > 0 {
			select {
			case <-l.clock.After(remaining):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	l.last = l.clock.Now()
	return nil
}
