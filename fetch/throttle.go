package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second

	// minBackoffDelay is where slowing down starts when no delay was set.
	minBackoffDelay = 500 * time.Millisecond
)

// Throttle spaces the requests of one crawl. It is shared by all of the
// crawl's workers so the delay holds regardless of parallelism.
type Throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	delay    time.Duration
	maxDelay time.Duration
	logger   *slog.Logger
}

// NewThrottle allows one request per delay. maxDelay caps SlowDown.
func NewThrottle(delay, maxDelay time.Duration, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDelay < delay {
		maxDelay = delay
	}
	return &Throttle{
		limiter:  rate.NewLimiter(limitFor(delay), 1),
		delay:    delay,
		maxDelay: maxDelay,
		logger:   logger,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// Wait blocks until the next request may start.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SlowDown doubles the delay, up to the cap, for the rest of the crawl and
// returns the new delay.
func (t *Throttle) SlowDown() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := max(t.delay*2, minBackoffDelay)
	if t.maxDelay > 0 {
		next = min(next, t.maxDelay)
	}
	if next != t.delay {
		t.logger.Warn("remote site is refusing requests, slowing down", "old_delay", t.delay, "new_delay", next)
		t.delay = next
		t.limiter.SetLimit(limitFor(next))
	}
	return next
}

// Delay returns the current delay between requests.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}
