package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket is a token-bucket rate limiter: capacity tokens, refilled
// at rate tokens per second. Acquire blocks until enough tokens are
// available; refill is computed lazily from elapsed time.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time

	now func() time.Time // Overridable for tests
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int, perSecond int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if perSecond < 1 {
		perSecond = 1
	}
	return &TokenBucket{
		capacity: float64(capacity),
		rate:     float64(perSecond),
		tokens:   float64(capacity),
		lastFill: time.Now(),
		now:      time.Now,
	}
}

// Acquire blocks until n tokens are available, then debits them.
// Waiting is done by sleeping until the deficit refills, re-checked on
// wake; it never busy-waits.
func (tb *TokenBucket) Acquire(ctx context.Context, n int) error {
	if float64(n) > tb.capacity {
		return fmt.Errorf("acquire %d exceeds bucket capacity %d", n, int(tb.capacity))
	}

	for {
		wait, ok := tb.take(float64(n))
		if ok {
			return nil
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

// TryAcquire debits n tokens if available without blocking.
func (tb *TokenBucket) TryAcquire(n int) bool {
	_, ok := tb.take(float64(n))
	return ok
}

// Available returns the current token count.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// take attempts to debit n tokens. On failure it returns how long to
// wait before the deficit refills.
func (tb *TokenBucket) take(n float64) (wait time.Duration, ok bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return 0, true
	}

	deficit := n - tb.tokens
	return time.Duration(deficit / tb.rate * float64(time.Second)), false
}

// refill credits tokens for elapsed time. Must be called with lock held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastFill = now
}
