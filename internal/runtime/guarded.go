package runtime

import (
	"context"
)

// Guarded wraps a Runtime with daemon-level protection: every call passes the
// circuit breaker, and mutating actions additionally pass the per-minute rate
// limiter. Context errors (cancellation, deadline) do not count as daemon
// failures.
type Guarded struct {
	inner   Runtime
	breaker *Breaker
	limiter *RateLimiter
}

func NewGuarded(inner Runtime, breaker *Breaker, limiter *RateLimiter) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: breaker,
		limiter: limiter,
	}
}

// Breaker exposes the breaker for observability.
func (g *Guarded) Breaker() *Breaker { return g.breaker }

func (g *Guarded) guard(ctx context.Context, mutating bool, call func() error) error {
	if mutating {
		if ok, wait := g.limiter.Allow(); !ok {
			return &RateLimitError{RetryAfter: wait}
		}
	}
	if !g.breaker.Allow() {
		return &BreakerOpenError{}
	}

	err := call()
	if err == nil {
		g.breaker.RecordSuccess()
		return nil
	}
	if ctx.Err() == nil && !IsNotFound(err) {
		g.breaker.RecordFailure()
	}
	return err
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.guard(ctx, false, func() error { return g.inner.Ping(ctx) })
}

func (g *Guarded) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	var out []ContainerInfo
	err := g.guard(ctx, false, func() error {
		var callErr error
		out, callErr = g.inner.ListContainers(ctx, all)
		return callErr
	})
	return out, err
}

func (g *Guarded) Inspect(ctx context.Context, nameOrID string) (InspectInfo, error) {
	var out InspectInfo
	err := g.guard(ctx, false, func() error {
		var callErr error
		out, callErr = g.inner.Inspect(ctx, nameOrID)
		return callErr
	})
	return out, err
}

func (g *Guarded) Stats(ctx context.Context, id string) (StatsSnapshot, error) {
	var out StatsSnapshot
	err := g.guard(ctx, false, func() error {
		var callErr error
		out, callErr = g.inner.Stats(ctx, id)
		return callErr
	})
	return out, err
}

func (g *Guarded) Restart(ctx context.Context, nameOrID string, stopTimeoutSeconds int) error {
	return g.guard(ctx, true, func() error { return g.inner.Restart(ctx, nameOrID, stopTimeoutSeconds) })
}

func (g *Guarded) Exec(ctx context.Context, nameOrID string, cmd []string) (ExecResult, error) {
	var out ExecResult
	err := g.guard(ctx, true, func() error {
		var callErr error
		out, callErr = g.inner.Exec(ctx, nameOrID, cmd)
		return callErr
	})
	return out, err
}

func (g *Guarded) Remove(ctx context.Context, nameOrID string, force bool) error {
	return g.guard(ctx, true, func() error { return g.inner.Remove(ctx, nameOrID, force) })
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}
