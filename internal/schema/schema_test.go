package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	alert := HealthAlert{
		Container:   "svc-a",
		ContainerID: "c1",
		Issues: []Anomaly{
			{Type: AnomalyHighCPU, Severity: SeverityHigh, Threshold: 85, Actual: 92.4},
		},
		Metrics: Metrics{CPUPercent: 92.4, MemoryPercent: 41.2},
		Status:  StatusRunning,
	}

	env, err := NewEnvelope("monitor", KindHealthAlert, alert)
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "monitor", env.Agent)
	assert.Equal(t, KindHealthAlert, env.Type)
	assert.False(t, env.Timestamp.IsZero())

	data, err := env.ToJSON()
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, decoded.FromJSON(data))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Agent, decoded.Agent)
	assert.Equal(t, env.Type, decoded.Type)
	assert.True(t, env.Timestamp.Equal(decoded.Timestamp))

	var got HealthAlert
	require.NoError(t, decoded.Decode(&got))
	assert.Equal(t, alert, got)
}

func TestEnvelopeWireFields(t *testing.T) {
	env, err := NewEnvelope("analyzer", KindFalseAlarm, FalseAlarm{Container: "svc-b"})
	require.NoError(t, err)

	data, err := env.ToJSON()
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, field := range []string{"id", "timestamp", "agent", "type", "data"} {
		assert.Contains(t, wire, field)
	}
}

func TestEnvelopeIDsUnique(t *testing.T) {
	a, err := NewEnvelope("monitor", KindHealthAlert, struct{}{})
	require.NoError(t, err)
	b, err := NewEnvelope("monitor", KindHealthAlert, struct{}{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "hemostat:stats:svc-a", StatsKey("svc-a"))
	assert.Equal(t, "hemostat:events:remediation_complete", EventsKey("remediation_complete"))
	assert.Equal(t, "hemostat:events:all", EventsAllKey())
	assert.Equal(t, "hemostat:cooldown:svc-a", CooldownKey("svc-a"))
	assert.Equal(t, "hemostat:circuit:svc-a", CircuitKey("svc-a"))
	assert.Equal(t, "hemostat:lock:svc-a", LockKey("svc-a"))
	assert.Equal(t, "hemostat:audit:svc-a", AuditKey("svc-a"))
	assert.Equal(t, "hemostat:history:svc-a", HistoryKey("svc-a"))
	assert.Equal(t, "hemostat:dedupe:abc123", DedupeKey("abc123"))
	assert.Equal(t, "hemostat:vulnscan:http://svc-a", VulnScanKey("http://svc-a"))
}

func TestChannelsCarryKindSuffix(t *testing.T) {
	assert.Equal(t, "hemostat:"+KindHealthAlert, ChannelHealthAlert)
	assert.Equal(t, "hemostat:"+KindRemediationNeeded, ChannelRemediationNeeded)
	assert.Equal(t, "hemostat:"+KindRemediationComplete, ChannelRemediationComplete)
	assert.Equal(t, "hemostat:"+KindFalseAlarm, ChannelFalseAlarm)
	assert.Equal(t, "hemostat:"+KindVulnerabilityAlert, ChannelVulnerabilityAlert)
}

func TestOutcomeOmitsEmptyRejection(t *testing.T) {
	data, err := json.Marshal(RemediationOutcome{
		Container: "svc-a",
		Action:    ActionRestart,
		Result:    ResultSuccess,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "rejection_reason")

	data, err = json.Marshal(RemediationOutcome{
		Container:       "svc-a",
		Action:          ActionRestart,
		Result:          ResultRejected,
		RejectionReason: RejectCooldownActive,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), "cooldown_active")
}

func TestTimestampsSerializeUTC(t *testing.T) {
	env, err := NewEnvelope("responder", KindRemediationComplete, struct{}{})
	require.NoError(t, err)
	_, offset := env.Timestamp.Zone()
	assert.Equal(t, 0, offset)
	assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, time.Minute)
}
