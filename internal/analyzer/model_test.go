package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemostat/hemostat/internal/llm"
	"github.com/hemostat/hemostat/internal/schema"
)

func TestModelClassifier_ParsesReply(t *testing.T) {
	provider := llm.NewFixedProvider(`{"verdict":"real_issue","action":"restart","confidence":0.88,"reason":"oom pattern"}`)
	mc := NewModelClassifier(provider, "", time.Second)

	d, err := mc.Classify(context.Background(), alertWith(schema.Anomaly{Type: schema.AnomalyHighMemory, Actual: 93}), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.VerdictRealIssue, d.Verdict)
	assert.Equal(t, schema.ActionRestart, d.Action)
	assert.InDelta(t, 0.88, d.Confidence, 0.001)
	assert.Equal(t, "oom pattern", d.Reason)
	assert.Equal(t, schema.MethodModel, d.AnalysisMethod)
}

func TestModelClassifier_StripsCodeFences(t *testing.T) {
	provider := llm.NewFixedProvider("```json\n{\"verdict\":\"false_alarm\",\"action\":\"none\",\"confidence\":0.6,\"reason\":\"transient\"}\n```")
	mc := NewModelClassifier(provider, "", time.Second)

	d, err := mc.Classify(context.Background(), alertWith(), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.VerdictFalseAlarm, d.Verdict)
}

func TestModelClassifier_FalseAlarmForcesNoAction(t *testing.T) {
	provider := llm.NewFixedProvider(`{"verdict":"false_alarm","action":"restart","confidence":0.6,"reason":"noise"}`)
	mc := NewModelClassifier(provider, "", time.Second)

	d, err := mc.Classify(context.Background(), alertWith(), nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ActionNone, d.Action)
}

func TestModelClassifier_MalformedReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "the container looks unhealthy to me"},
		{"unknown verdict", `{"verdict":"maybe","action":"restart","confidence":0.8,"reason":"x"}`},
		{"unknown action", `{"verdict":"real_issue","action":"reboot","confidence":0.8,"reason":"x"}`},
		{"confidence out of range", `{"verdict":"real_issue","action":"restart","confidence":1.5,"reason":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := NewModelClassifier(llm.NewFixedProvider(tt.reply), "", time.Second)
			_, err := mc.Classify(context.Background(), alertWith(), nil)
			require.Error(t, err)
		})
	}
}

func TestModelClassifier_ProviderError(t *testing.T) {
	mc := NewModelClassifier(llm.NewErrorProvider(), "", time.Second)
	_, err := mc.Classify(context.Background(), alertWith(), nil)
	require.Error(t, err)
}
