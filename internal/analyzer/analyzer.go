// Package analyzer implements the Analyzer agent: it classifies incoming
// health alerts as real issues or false alarms and gates remediation on
// confidence. Two classifier variants exist: a model-backed one and a
// deterministic rule table that doubles as the fallback.
package analyzer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/schema"
)

// Classifier is the decision capability the Analyzer is polymorphic over.
// History is the container's recent alert window, newest first.
type Classifier interface {
	Classify(ctx context.Context, alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, error)
}

// Config holds the Analyzer settings.
type Config struct {
	ConfidenceThreshold float64
	HistorySize         int64
	HistoryTTL          time.Duration
	FallbackEnabled     bool
}

// Analyzer consumes health alerts and publishes remediation requests or
// false alarms.
type Analyzer struct {
	agent    *agent.Agent
	primary  Classifier
	fallback Classifier
	cfg      Config
	metrics  *metrics.Metrics
}

// New wires the Analyzer onto its agent runtime. primary may be nil, in which
// case fallback classifies everything. Metrics may be nil.
func New(a *agent.Agent, primary, fallback Classifier, cfg Config, m *metrics.Metrics) *Analyzer {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = time.Hour
	}

	an := &Analyzer{
		agent:    a,
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		metrics:  m,
	}

	a.Handle(schema.ChannelHealthAlert, an.handleAlert)
	return an
}

func (an *Analyzer) handleAlert(ctx context.Context, env *schema.Envelope) {
	log := an.agent.Log()

	var alert schema.HealthAlert
	if err := env.Decode(&alert); err != nil {
		log.Warn("malformed health alert, skipping",
			logger.Field{Key: "error", Value: err.Error()})
		return
	}

	// History is read before this alert is appended, so the transient-spike
	// rule sees an empty window on a container's first alert.
	history := an.loadHistory(ctx, alert.Container)

	decision, ok := an.classify(ctx, alert, history)

	an.appendHistory(ctx, env, alert)

	if !ok {
		return
	}

	if an.metrics != nil {
		an.metrics.RecordDecision(string(decision.Verdict), string(decision.AnalysisMethod))
	}

	log.Info("alert classified",
		logger.Field{Key: "container", Value: alert.Container},
		logger.Field{Key: "verdict", Value: string(decision.Verdict)},
		logger.Field{Key: "action", Value: string(decision.Action)},
		logger.Field{Key: "confidence", Value: decision.Confidence},
		logger.Field{Key: "method", Value: string(decision.AnalysisMethod)})

	if decision.Verdict == schema.VerdictRealIssue &&
		decision.Confidence >= an.cfg.ConfidenceThreshold &&
		decision.Action != schema.ActionNone {
		an.publishRemediation(ctx, env, alert, decision)
		return
	}

	an.publishFalseAlarm(ctx, alert, decision)
}

// classify runs the primary classifier with fallback on any error. Returns
// false when no decision could be made and the alert must be dropped.
func (an *Analyzer) classify(ctx context.Context, alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, bool) {
	log := an.agent.Log()

	if an.primary != nil {
		decision, err := an.primary.Classify(ctx, alert, history)
		if err == nil {
			return decision, true
		}
		if !an.cfg.FallbackEnabled {
			log.Warn("classification failed and fallback is disabled, alert dropped",
				logger.Field{Key: "container", Value: alert.Container},
				logger.Field{Key: "error", Value: err.Error()})
			return schema.Decision{}, false
		}
		log.Warn("model classification failed, falling back to rules",
			logger.Field{Key: "container", Value: alert.Container},
			logger.Field{Key: "error", Value: err.Error()})
	}

	decision, err := an.fallback.Classify(ctx, alert, history)
	if err != nil {
		log.Warn("rule classification failed, alert dropped",
			logger.Field{Key: "container", Value: alert.Container},
			logger.Field{Key: "error", Value: err.Error()})
		return schema.Decision{}, false
	}
	return decision, true
}

func (an *Analyzer) publishRemediation(ctx context.Context, env *schema.Envelope, alert schema.HealthAlert, d schema.Decision) {
	req := schema.RemediationRequest{
		Container:      alert.Container,
		ContainerID:    alert.ContainerID,
		Action:         d.Action,
		Reason:         d.Reason,
		Confidence:     d.Confidence,
		Metrics:        alert.Metrics,
		AlertTimestamp: env.Timestamp,
	}
	_ = an.agent.Publish(ctx, schema.ChannelRemediationNeeded, schema.KindRemediationNeeded, req)
}

func (an *Analyzer) publishFalseAlarm(ctx context.Context, alert schema.HealthAlert, d schema.Decision) {
	reason := d.Reason
	// A real issue below the confidence gate is still reported, with the
	// uncertainty visible to the operator.
	if d.Verdict == schema.VerdictRealIssue {
		reason = "real issue below confidence threshold: " + d.Reason
	}
	fa := schema.FalseAlarm{
		Container:      alert.Container,
		ContainerID:    alert.ContainerID,
		Reason:         reason,
		Confidence:     d.Confidence,
		AnalysisMethod: d.AnalysisMethod,
	}
	_ = an.agent.Publish(ctx, schema.ChannelFalseAlarm, schema.KindFalseAlarm, fa)
}

func (an *Analyzer) loadHistory(ctx context.Context, container string) []schema.HistoryEntry {
	raw, err := an.agent.Broker().ListRange(ctx, schema.HistoryKey(container), 0, an.cfg.HistorySize-1)
	if err != nil {
		an.agent.Log().Warn("failed to load history",
			logger.Field{Key: "container", Value: container},
			logger.Field{Key: "error", Value: err.Error()})
		return nil
	}

	entries := make([]schema.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e schema.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (an *Analyzer) appendHistory(ctx context.Context, env *schema.Envelope, alert schema.HealthAlert) {
	types := make([]schema.AnomalyType, 0, len(alert.Issues))
	for _, a := range alert.Issues {
		types = append(types, a.Type)
	}
	entry := schema.HistoryEntry{
		Timestamp:     env.Timestamp,
		CPUPercent:    alert.Metrics.CPUPercent,
		MemoryPercent: alert.Metrics.MemoryPercent,
		Anomalies:     types,
	}
	if err := an.agent.Broker().AppendBounded(ctx, schema.HistoryKey(alert.Container), entry, an.cfg.HistorySize, an.cfg.HistoryTTL); err != nil {
		an.agent.Log().Warn("failed to append history",
			logger.Field{Key: "container", Value: alert.Container},
			logger.Field{Key: "error", Value: err.Error()})
	}
}
