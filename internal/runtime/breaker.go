package runtime

import (
	"sync/atomic"
	"time"
)

// BreakerState is the daemon circuit breaker state.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// Breaker is an in-process circuit breaker in front of the Docker daemon.
// A dead daemon trips it after threshold consecutive failures, so callers
// fail fast instead of timing out per container.
type Breaker struct {
	state            atomic.Int32
	failures         atomic.Int32
	lastFail         atomic.Int64
	halfOpenAttempts atomic.Int32
	threshold        int32
	timeout          time.Duration
}

func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 5
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		threshold: int32(threshold),
		timeout:   timeout,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	for {
		state := BreakerState(b.state.Load())

		switch state {
		case BreakerClosed:
			return true

		case BreakerOpen:
			lastFail := time.Unix(0, b.lastFail.Load())
			if time.Since(lastFail) <= b.timeout {
				return false
			}
			if !b.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen)) {
				continue
			}
			b.halfOpenAttempts.Store(0)
			return true

		case BreakerHalfOpen:
			// One probe at a time while half-open.
			return b.halfOpenAttempts.CompareAndSwap(0, 1)
		}
	}
}

func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.halfOpenAttempts.Store(0)
	b.state.Store(int32(BreakerClosed))
}

func (b *Breaker) RecordFailure() {
	b.failures.Add(1)
	b.lastFail.Store(time.Now().UnixNano())

	state := BreakerState(b.state.Load())
	if state == BreakerHalfOpen {
		b.state.Store(int32(BreakerOpen))
	} else if b.failures.Load() >= b.threshold {
		b.state.CompareAndSwap(int32(BreakerClosed), int32(BreakerOpen))
	}
}

func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

func (b *Breaker) Reset() {
	b.failures.Store(0)
	b.halfOpenAttempts.Store(0)
	b.state.Store(int32(BreakerClosed))
}
