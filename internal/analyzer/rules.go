package analyzer

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hemostat/hemostat/internal/schema"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule is one row of the classification table. A rule matches when the alert
// carries an anomaly of the given type whose observed value is strictly above
// MinValue; a zero MinValue matches any observed value.
type Rule struct {
	Name       string             `yaml:"name"`
	Anomaly    schema.AnomalyType `yaml:"anomaly"`
	MinValue   float64            `yaml:"min_value"`
	Verdict    schema.Verdict     `yaml:"verdict"`
	Action     schema.Action      `yaml:"action"`
	Confidence float64            `yaml:"confidence"`
	Reason     string             `yaml:"reason"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleClassifier is the deterministic table-driven classifier, also used as
// the fallback when the model variant fails. The static table is data; trend
// rules that consult the per-container history window follow it in code.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier loads the built-in rule table. A non-empty path replaces
// the table with a YAML file of the same shape.
func NewRuleClassifier(path string) (*RuleClassifier, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules %s: %w", path, err)
		}
		data = b
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}

	for i, r := range rf.Rules {
		if r.Verdict != schema.VerdictRealIssue && r.Verdict != schema.VerdictFalseAlarm {
			return nil, fmt.Errorf("rule %d (%s): unknown verdict %q", i, r.Name, r.Verdict)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %d (%s): confidence %v out of range", i, r.Name, r.Confidence)
		}
	}

	return &RuleClassifier{rules: rf.Rules}, nil
}

// Classify evaluates the table top to bottom, then the trend rules, then the
// transient-spike rule. It never fails: an unmatched alert is a low-confidence
// false alarm.
func (rc *RuleClassifier) Classify(ctx context.Context, alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, error) {
	for _, r := range rc.rules {
		if a, ok := findAnomaly(alert, r.Anomaly); ok && (r.MinValue == 0 || a.Actual > r.MinValue) {
			return schema.Decision{
				Verdict:        r.Verdict,
				Action:         r.Action,
				Confidence:     r.Confidence,
				Reason:         r.Reason,
				AnalysisMethod: schema.MethodRule,
			}, nil
		}
	}

	if d, ok := trendDecision(alert, history); ok {
		return d, nil
	}

	if d, ok := transientSpike(alert, history); ok {
		return d, nil
	}

	return schema.Decision{
		Verdict:        schema.VerdictFalseAlarm,
		Action:         schema.ActionNone,
		Confidence:     0.5,
		Reason:         "no rule matched",
		AnalysisMethod: schema.MethodRule,
	}, nil
}

func findAnomaly(alert schema.HealthAlert, t schema.AnomalyType) (schema.Anomaly, bool) {
	for _, a := range alert.Issues {
		if a.Type == t {
			return a, true
		}
	}
	return schema.Anomaly{}, false
}

// trendDecision catches slow degradations the static table misses: CPU held
// in the early-warning band across the recent window, or memory climbing
// past 70% on a rising trend. History is newest first.
func trendDecision(alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, bool) {
	if len(history) < 3 {
		return schema.Decision{}, false
	}
	recent := history[:3]

	if _, ok := findAnomaly(alert, schema.AnomalyHighCPU); ok {
		sustained := true
		for i := 0; i < len(recent)-1; i++ {
			if recent[i].CPUPercent < recent[i+1].CPUPercent {
				sustained = false
				break
			}
		}
		if sustained {
			return schema.Decision{
				Verdict:        schema.VerdictRealIssue,
				Action:         schema.ActionRestart,
				Confidence:     0.75,
				Reason:         "sustained high cpu with non-decreasing trend",
				AnalysisMethod: schema.MethodRule,
			}, true
		}
	}

	if _, ok := findAnomaly(alert, schema.AnomalyHighMemory); ok && alert.Metrics.MemoryPercent > 70 {
		rising := true
		for i := 0; i < len(recent)-1; i++ {
			if recent[i].MemoryPercent <= recent[i+1].MemoryPercent {
				rising = false
				break
			}
		}
		if rising {
			return schema.Decision{
				Verdict:        schema.VerdictRealIssue,
				Action:         schema.ActionRestart,
				Confidence:     0.8,
				Reason:         "memory climbing across recent samples, possible leak",
				AnalysisMethod: schema.MethodRule,
			}, true
		}
	}

	return schema.Decision{}, false
}

// transientSpike treats a single medium anomaly with no recent history as
// noise.
func transientSpike(alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, bool) {
	if len(alert.Issues) != 1 || len(history) > 0 {
		return schema.Decision{}, false
	}
	if alert.Issues[0].Severity != schema.SeverityMedium {
		return schema.Decision{}, false
	}
	return schema.Decision{
		Verdict:        schema.VerdictFalseAlarm,
		Action:         schema.ActionNone,
		Confidence:     0.65,
		Reason:         "single transient spike, no supporting history",
		AnalysisMethod: schema.MethodRule,
	}, true
}
