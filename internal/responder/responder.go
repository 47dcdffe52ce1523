// Package responder implements the Responder agent: it consumes remediation
// requests, enforces the safety machinery (dry-run, cooldown, circuit
// breaker, single-writer lock), actuates the container runtime, writes the
// audit trail, and publishes exactly one outcome per request.
package responder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/runtime"
	"github.com/hemostat/hemostat/internal/schema"
)

// Config holds the Responder settings.
type Config struct {
	DryRun               bool
	Cooldown             time.Duration
	CircuitWindow        time.Duration
	MaxRetriesPerWindow  int
	MaxParallel          int
	ActionDeadline       time.Duration
	StopTimeoutSeconds   int
	EnforceExecAllowlist bool
	AuditMax             int64
	AuditTTL             time.Duration
}

// Responder consumes remediation requests and actuates the runtime.
type Responder struct {
	agent   *agent.Agent
	rt      runtime.Runtime
	cfg     Config
	metrics *metrics.Metrics

	sem chan struct{}
	wg  sync.WaitGroup

	mu         sync.Mutex
	containers map[string]*sync.Mutex
}

// New wires the Responder onto its agent runtime. Metrics may be nil.
func New(a *agent.Agent, rt runtime.Runtime, cfg Config, m *metrics.Metrics) *Responder {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 300 * time.Second
	}
	if cfg.CircuitWindow <= 0 {
		cfg.CircuitWindow = time.Hour
	}
	if cfg.MaxRetriesPerWindow <= 0 {
		cfg.MaxRetriesPerWindow = 3
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.ActionDeadline <= 0 {
		cfg.ActionDeadline = 30 * time.Second
	}
	if cfg.StopTimeoutSeconds <= 0 {
		cfg.StopTimeoutSeconds = 10
	}
	if cfg.AuditMax <= 0 {
		cfg.AuditMax = 100
	}
	if cfg.AuditTTL <= 0 {
		cfg.AuditTTL = 24 * time.Hour
	}

	r := &Responder{
		agent:      a,
		rt:         rt,
		cfg:        cfg,
		metrics:    m,
		sem:        make(chan struct{}, cfg.MaxParallel),
		containers: make(map[string]*sync.Mutex),
	}

	a.Handle(schema.ChannelRemediationNeeded, r.handleRequest)
	// Shutdown waits for in-flight actions, not just channel handlers.
	a.AddTask(func(ctx context.Context) {
		<-ctx.Done()
		r.wg.Wait()
	})
	return r
}

// containerLock serializes processing per container; distinct containers run
// in parallel up to MaxParallel.
func (r *Responder) containerLock(container string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.containers[container]
	if !ok {
		l = &sync.Mutex{}
		r.containers[container] = l
	}
	return l
}

func (r *Responder) handleRequest(ctx context.Context, env *schema.Envelope) {
	var req schema.RemediationRequest
	if err := env.Decode(&req); err != nil {
		r.agent.Log().Warn("malformed remediation request, skipping",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if req.Container == "" {
		r.agent.Log().Warn("remediation request without container identity, skipping")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-r.sem }()

		l := r.containerLock(req.Container)
		l.Lock()
		defer l.Unlock()

		r.Process(ctx, req)
	}()
}

// Process runs the full safety chain for one request and publishes exactly
// one outcome. Exported for the run path and tests; concurrency control lives
// in handleRequest.
func (r *Responder) Process(ctx context.Context, req schema.RemediationRequest) schema.RemediationOutcome {
	started := time.Now()
	now := started.UTC()
	log := r.agent.Log().With(
		logger.Field{Key: "container", Value: req.Container},
		logger.Field{Key: "action", Value: string(req.Action)})

	outcome := schema.RemediationOutcome{
		Container:      req.Container,
		ContainerID:    req.ContainerID,
		Action:         req.Action,
		DryRun:         r.cfg.DryRun,
		Reason:         req.Reason,
		Confidence:     req.Confidence,
		Attempt:        1,
		AlertTimestamp: req.AlertTimestamp,
	}

	reject := func(reason schema.RejectionReason, detail string) schema.RemediationOutcome {
		outcome.Result = schema.ResultRejected
		outcome.RejectionReason = reason
		outcome.Error = detail
		outcome.DurationMS = time.Since(started).Milliseconds()
		log.Info("remediation rejected",
			logger.Field{Key: "reason", Value: string(reason)},
			logger.Field{Key: "detail", Value: detail})
		r.finish(ctx, req, outcome, "")
		return outcome
	}

	switch req.Action {
	case schema.ActionRestart, schema.ActionScaleUp, schema.ActionCleanup:
	case schema.ActionExec:
		if cmd := execCommand(req.Command); r.cfg.EnforceExecAllowlist && !execAllowed(cmd) {
			return reject(schema.RejectUnsupportedAction, "command is not on the exec allowlist")
		}
	default:
		return reject(schema.RejectUnsupportedAction, fmt.Sprintf("unknown action %q", req.Action))
	}

	// 1. Existence.
	if _, err := r.rt.Inspect(ctx, req.Container); err != nil {
		if runtime.IsNotFound(err) {
			return reject(schema.RejectUnknownContainer, "container not found")
		}
		outcome.Result = schema.ResultFailed
		outcome.Error = err.Error()
		outcome.DurationMS = time.Since(started).Milliseconds()
		r.finish(ctx, req, outcome, "")
		return outcome
	}

	// 2. Dry-run: outcome and audit still happen, the runtime is untouched.
	if r.cfg.DryRun {
		return reject(schema.RejectDryRunSkipped, "dry-run mode")
	}

	// 3. Cooldown.
	remaining, err := r.cooldownRemaining(ctx, req.Container, now)
	if err != nil {
		log.Warn("cooldown lookup failed, proceeding",
			logger.Field{Key: "error", Value: err.Error()})
	}
	if remaining > 0 {
		return reject(schema.RejectCooldownActive,
			fmt.Sprintf("cooldown active, %ds remaining", int(remaining.Seconds())))
	}

	// 4. Circuit breaker over the trailing window.
	ring, err := r.loadRing(ctx, req.Container, now)
	if err != nil {
		log.Warn("circuit lookup failed, proceeding",
			logger.Field{Key: "error", Value: err.Error()})
	}
	if len(ring) >= r.cfg.MaxRetriesPerWindow {
		return reject(schema.RejectCircuitOpen,
			fmt.Sprintf("%d attempts in the last %s", len(ring), r.cfg.CircuitWindow))
	}

	// 5. Single-writer lock. Losing the claim means another responder holds
	// this container; conservatively report it as cooldown.
	token := uuid.NewString()
	claimed, err := r.agent.Broker().SetIfAbsent(ctx, schema.LockKey(req.Container), token, r.cfg.ActionDeadline)
	if err != nil || !claimed {
		return reject(schema.RejectCooldownActive, "container is locked by another responder")
	}
	defer func() {
		if err := r.agent.Broker().ReleaseIfValue(ctx, schema.LockKey(req.Container), token); err != nil {
			log.Warn("failed to release lock",
				logger.Field{Key: "error", Value: err.Error()})
		}
	}()

	// 6. Execute with a bounded deadline.
	actionCtx, cancel := context.WithTimeout(ctx, r.cfg.ActionDeadline)
	exec := r.execute(actionCtx, req)
	cancel()

	outcome.Result = exec.result
	outcome.DurationMS = time.Since(started).Milliseconds()
	if exec.err != nil {
		if errors.Is(exec.err, context.DeadlineExceeded) {
			outcome.Error = "timeout"
		} else {
			outcome.Error = exec.err.Error()
		}
	}

	// 7. Bookkeeping. Success refreshes the cooldown; both success and
	// failure count against the circuit.
	switch exec.result {
	case schema.ResultSuccess:
		r.recordCooldown(ctx, req.Container, req.Action, now)
		r.appendRing(ctx, req.Container, ring, now)
	case schema.ResultFailed:
		r.appendRing(ctx, req.Container, ring, now)
	}

	log.Info("remediation executed",
		logger.Field{Key: "result", Value: string(exec.result)},
		logger.Field{Key: "duration_ms", Value: outcome.DurationMS})

	r.finish(ctx, req, outcome, exec.output)
	return outcome
}

// finish writes the audit entry and publishes the outcome.
func (r *Responder) finish(ctx context.Context, req schema.RemediationRequest, outcome schema.RemediationOutcome, output string) {
	r.audit(ctx, req.Container, schema.AuditEntry{
		Timestamp:       time.Now().UTC(),
		Action:          outcome.Action,
		Result:          outcome.Result,
		RejectionReason: outcome.RejectionReason,
		DryRun:          outcome.DryRun,
		Reason:          outcome.Reason,
		Error:           outcome.Error,
		Output:          output,
		DurationMS:      outcome.DurationMS,
	})

	if r.metrics != nil {
		r.metrics.RecordAction(string(outcome.Action), string(outcome.Result),
			time.Duration(outcome.DurationMS)*time.Millisecond)
	}

	_ = r.agent.Publish(ctx, schema.ChannelRemediationComplete, schema.KindRemediationComplete, outcome)
}
