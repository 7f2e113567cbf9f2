package executor

import (
	"sync"
	"time"
)

// RetryPolicy bounds how many times a node invocation is retried after a
// transient Execution error before the failure is surfaced, and how long
// to wait between attempts. Grounded on original_source/crates/core/src/
// executor/scheduler.rs's execute_node_with_retry, which threads a
// RetryPolicy value through each node call; the policy type itself lives
// in a retry module not present in the retrieval pack, so the field names
// and defaults below follow scheduler.rs's call sites rather than a
// literal source file.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors scheduler.rs's inline default: three
// attempts, 50ms base backoff doubling up to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// CircuitBreaker trips open after a run of consecutive node failures and
// refuses further invocations until resetWindow has elapsed, at which
// point it allows one trial call (half-open) before closing again on
// success. Mirrors the is_open/record_success/record_failure trio
// scheduler.rs calls around every node invocation.
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	resetWindow   time.Duration
	consecutive   int
	openedAt      time.Time
	open          bool
	timeNow       func() time.Time
}

// NewCircuitBreaker constructs a breaker that opens after threshold
// consecutive failures and attempts a half-open trial after resetWindow.
func NewCircuitBreaker(threshold int, resetWindow time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{threshold: threshold, resetWindow: resetWindow, timeNow: time.Now}
}

// IsOpen reports whether the breaker is currently refusing calls. A
// breaker past its reset window is reported closed (half-open trial
// allowed) without mutating state; the caller's subsequent
// RecordSuccess/RecordFailure call settles it.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	if b.timeNow().Sub(b.openedAt) >= b.resetWindow {
		return false
	}
	return true
}

// RecordSuccess resets the consecutive-failure count and closes the
// breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.open = false
}

// RecordFailure increments the consecutive-failure count, opening the
// breaker once threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.open = true
		b.openedAt = b.timeNow()
	}
}
