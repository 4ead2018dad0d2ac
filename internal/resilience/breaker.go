package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the guarded function.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the current state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	Threshold    int           // Consecutive failures before opening
	ResetTimeout time.Duration // Time in open state before allowing a probe
}

// Breaker is a circuit breaker guarding one external call site.
//
// After Threshold consecutive failures the breaker opens and rejects
// calls immediately with ErrCircuitOpen. Once ResetTimeout elapses, the
// next call is let through half-open: success closes the breaker,
// failure reopens it.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	now func() time.Time // Overridable for tests
}

// NewBreaker creates a circuit breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// allow decides whether a call may proceed, transitioning to half-open
// when the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
	}
	return nil
}

// record updates state from a call result.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return
	}

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		return
	}

	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
