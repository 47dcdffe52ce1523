// Package alert implements the Alert agent: it persists pipeline outcomes to
// bounded event lists for UI consumption, deduplicates repeats, and delivers
// notifications to a webhook sink. Persistence always happens before
// delivery; dedup suppresses notifications only, never the event record.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/schema"
)

// Config holds the Alert settings.
type Config struct {
	NotificationsEnabled bool
	DedupeTTL            time.Duration
	MaxEventsPerKind     int64
	EventsTTL            time.Duration
}

// Alert consumes remediation outcomes and false alarms.
type Alert struct {
	agent   *agent.Agent
	sink    Sink
	cfg     Config
	metrics *metrics.Metrics
}

// New wires the Alert agent. sink may be nil, in which case only persistence
// happens. Metrics may be nil.
func New(a *agent.Agent, sink Sink, cfg Config, m *metrics.Metrics) *Alert {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 60 * time.Second
	}
	if cfg.MaxEventsPerKind <= 0 {
		cfg.MaxEventsPerKind = 100
	}
	if cfg.EventsTTL <= 0 {
		cfg.EventsTTL = time.Hour
	}

	al := &Alert{agent: a, sink: sink, cfg: cfg, metrics: m}
	a.Handle(schema.ChannelRemediationComplete, al.handleOutcome)
	a.Handle(schema.ChannelFalseAlarm, al.handleFalseAlarm)
	a.Handle(schema.ChannelVulnerabilityAlert, al.handleVulnerability)
	return al
}

func (al *Alert) handleOutcome(ctx context.Context, env *schema.Envelope) {
	var outcome schema.RemediationOutcome
	if err := env.Decode(&outcome); err != nil {
		al.agent.Log().Warn("malformed remediation outcome, skipping",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}

	al.persist(ctx, env)

	al.deliver(ctx, env, outcome.ContainerID, string(outcome.Action), outcomeNotification(env, outcome))
}

func (al *Alert) handleFalseAlarm(ctx context.Context, env *schema.Envelope) {
	var fa schema.FalseAlarm
	if err := env.Decode(&fa); err != nil {
		al.agent.Log().Warn("malformed false alarm, skipping",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}

	al.persist(ctx, env)

	al.deliver(ctx, env, fa.ContainerID, fa.Reason, falseAlarmNotification(env, fa))
}

func (al *Alert) handleVulnerability(ctx context.Context, env *schema.Envelope) {
	var va schema.VulnerabilityAlert
	if err := env.Decode(&va); err != nil {
		al.agent.Log().Warn("malformed vulnerability alert, skipping",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}

	al.persist(ctx, env)

	al.deliver(ctx, env, va.TargetURL, "critical_vulnerabilities", vulnerabilityNotification(env, va))
}

// persist appends the raw event to the per-kind and the combined list. This
// runs before any delivery decision.
func (al *Alert) persist(ctx context.Context, env *schema.Envelope) {
	record := schema.EventRecord{
		Timestamp: env.Timestamp,
		Publisher: env.Agent,
		Kind:      env.Type,
		Payload:   env.Data,
	}

	for _, key := range []string{schema.EventsKey(env.Type), schema.EventsAllKey()} {
		if err := al.agent.Broker().AppendBounded(ctx, key, record, al.cfg.MaxEventsPerKind, al.cfg.EventsTTL); err != nil {
			al.agent.Log().Warn("failed to persist event",
				logger.Field{Key: "key", Value: key},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

// deliver runs the dedup gate and sends the notification. Failures are
// logged, never propagated.
func (al *Alert) deliver(ctx context.Context, env *schema.Envelope, containerID, discriminator string, n Notification) {
	if !al.cfg.NotificationsEnabled || al.sink == nil {
		return
	}
	log := al.agent.Log()

	key := schema.DedupeKey(dedupHash(containerID, env.Type, discriminator, env.Timestamp))
	claimed, err := al.agent.Broker().SetIfAbsent(ctx, key, "1", al.cfg.DedupeTTL)
	if err != nil {
		log.Warn("dedup check failed, delivering anyway",
			logger.Field{Key: "error", Value: err.Error()})
	} else if !claimed {
		log.Info("duplicate notification suppressed",
			logger.Field{Key: "container", Value: n.Container},
			logger.Field{Key: "kind", Value: env.Type})
		if al.metrics != nil {
			al.metrics.RecordDeduped()
		}
		return
	}

	if err := al.sink.Send(ctx, n); err != nil {
		log.Warn("notification delivery failed",
			logger.Field{Key: "container", Value: n.Container},
			logger.Field{Key: "error", Value: err.Error()})
		if al.metrics != nil {
			al.metrics.RecordWebhook("failed")
		}
		return
	}
	if al.metrics != nil {
		al.metrics.RecordWebhook("delivered")
	}
}

func outcomeNotification(env *schema.Envelope, o schema.RemediationOutcome) Notification {
	severity := TagInfo
	switch o.Result {
	case schema.ResultSuccess:
		severity = TagSuccess
	case schema.ResultFailed:
		severity = TagError
	case schema.ResultRejected:
		severity = TagWarning
	case schema.ResultNotApplicable:
		severity = TagMuted
	}

	fields := []Field{
		{Name: "action", Value: string(o.Action)},
		{Name: "result", Value: string(o.Result)},
		{Name: "duration_ms", Value: fmt.Sprintf("%d", o.DurationMS)},
	}
	if o.RejectionReason != "" {
		fields = append(fields, Field{Name: "rejection_reason", Value: string(o.RejectionReason)})
	}
	if o.Reason != "" {
		fields = append(fields, Field{Name: "reason", Value: o.Reason})
	}
	if o.Error != "" {
		fields = append(fields, Field{Name: "error", Value: o.Error})
	}
	if o.DryRun {
		fields = append(fields, Field{Name: "dry_run", Value: "true"})
	}

	return Notification{
		Title:     fmt.Sprintf("Remediation %s: %s %s", o.Result, o.Action, o.Container),
		Severity:  severity,
		Kind:      env.Type,
		Container: o.Container,
		Timestamp: env.Timestamp,
		Fields:    fields,
	}
}

func vulnerabilityNotification(env *schema.Envelope, va schema.VulnerabilityAlert) Notification {
	fields := []Field{
		{Name: "critical_count", Value: fmt.Sprintf("%d", va.CriticalCount)},
		{Name: "total_findings", Value: fmt.Sprintf("%d", va.TotalFindings)},
	}
	// The first few finding names give the operator a scent without dumping
	// the whole report into the notification.
	for i, f := range va.Critical {
		if i == 3 {
			break
		}
		fields = append(fields, Field{Name: "finding", Value: f.Name})
	}

	return Notification{
		Title:     fmt.Sprintf("Critical vulnerabilities: %s", va.TargetURL),
		Severity:  TagError,
		Kind:      env.Type,
		Container: va.TargetURL,
		Timestamp: env.Timestamp,
		Fields:    fields,
	}
}

func falseAlarmNotification(env *schema.Envelope, fa schema.FalseAlarm) Notification {
	return Notification{
		Title:     fmt.Sprintf("False alarm: %s", fa.Container),
		Severity:  TagInfo,
		Kind:      env.Type,
		Container: fa.Container,
		Timestamp: env.Timestamp,
		Fields: []Field{
			{Name: "reason", Value: fa.Reason},
			{Name: "confidence", Value: fmt.Sprintf("%.2f", fa.Confidence)},
			{Name: "method", Value: string(fa.AnalysisMethod)},
		},
	}
}
