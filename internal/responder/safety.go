package responder

import (
	"context"
	"time"

	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/schema"
)

// stateTTL is how long cooldown and circuit state outlive their last write:
// both must survive at least the longer of the two windows.
func (r *Responder) stateTTL() time.Duration {
	if r.cfg.Cooldown > r.cfg.CircuitWindow {
		return r.cfg.Cooldown
	}
	return r.cfg.CircuitWindow
}

// cooldownRemaining returns how long the per-container cooldown still has to
// run. Zero means the container is actionable; an elapsed time exactly equal
// to the cooldown is already outside it.
func (r *Responder) cooldownRemaining(ctx context.Context, container string, now time.Time) (time.Duration, error) {
	var rec schema.CooldownRecord
	found, err := r.agent.Broker().Get(ctx, schema.CooldownKey(container), &rec)
	if err != nil || !found {
		return 0, err
	}
	elapsed := now.Sub(rec.LastActionTimestamp)
	if elapsed >= r.cfg.Cooldown {
		return 0, nil
	}
	return r.cfg.Cooldown - elapsed, nil
}

func (r *Responder) recordCooldown(ctx context.Context, container string, action schema.Action, now time.Time) {
	rec := schema.CooldownRecord{
		LastActionTimestamp: now,
		LastActionKind:      action,
	}
	if err := r.agent.Broker().Set(ctx, schema.CooldownKey(container), rec, r.stateTTL()); err != nil {
		r.agent.Log().Warn("failed to record cooldown",
			logger.Field{Key: "container", Value: container},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// loadRing returns the per-container action timestamps still inside the
// trailing circuit window.
func (r *Responder) loadRing(ctx context.Context, container string, now time.Time) ([]time.Time, error) {
	var ring []time.Time
	if _, err := r.agent.Broker().Get(ctx, schema.CircuitKey(container), &ring); err != nil {
		return nil, err
	}

	cutoff := now.Add(-r.cfg.CircuitWindow)
	kept := ring[:0]
	for _, ts := range ring {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept, nil
}

// appendRing adds an attempt timestamp. Failed attempts count too: that is
// the anti-loop property of the circuit.
func (r *Responder) appendRing(ctx context.Context, container string, ring []time.Time, now time.Time) {
	ring = append(ring, now)
	if err := r.agent.Broker().Set(ctx, schema.CircuitKey(container), ring, r.stateTTL()); err != nil {
		r.agent.Log().Warn("failed to record circuit state",
			logger.Field{Key: "container", Value: container},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

func (r *Responder) audit(ctx context.Context, container string, entry schema.AuditEntry) {
	if err := r.agent.Broker().AppendBounded(ctx, schema.AuditKey(container), entry, r.cfg.AuditMax, r.cfg.AuditTTL); err != nil {
		r.agent.Log().Warn("failed to append audit entry",
			logger.Field{Key: "container", Value: container},
			logger.Field{Key: "error", Value: err.Error()})
	}
}
