// Package schema defines the message envelope, payload types, broker channel
// names, and keyed-store layout shared by all agents. Agents never import each
// other; this package is the only vocabulary they have in common.
package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Broker channels. The channel suffix doubles as the event kind carried in
// the envelope "type" field.
const (
	ChannelHealthAlert         = "hemostat:health_alert"
	ChannelRemediationNeeded   = "hemostat:remediation_needed"
	ChannelRemediationComplete = "hemostat:remediation_complete"
	ChannelFalseAlarm          = "hemostat:false_alarm"
	ChannelVulnerabilityAlert  = "hemostat:vulnerability_alert"
)

const (
	KindHealthAlert         = "health_alert"
	KindRemediationNeeded   = "remediation_needed"
	KindRemediationComplete = "remediation_complete"
	KindFalseAlarm          = "false_alarm"
	KindVulnerabilityAlert  = "vulnerability_alert"
)

// KeyPrefix namespaces every keyed-store entry.
const KeyPrefix = "hemostat:"

func StatsKey(container string) string    { return KeyPrefix + "stats:" + container }
func EventsKey(kind string) string        { return KeyPrefix + "events:" + kind }
func EventsAllKey() string                { return KeyPrefix + "events:all" }
func CooldownKey(container string) string { return KeyPrefix + "cooldown:" + container }
func CircuitKey(container string) string  { return KeyPrefix + "circuit:" + container }
func LockKey(container string) string     { return KeyPrefix + "lock:" + container }
func AuditKey(container string) string    { return KeyPrefix + "audit:" + container }
func HistoryKey(container string) string  { return KeyPrefix + "history:" + container }
func DedupeKey(hash string) string        { return KeyPrefix + "dedupe:" + hash }
func VulnScanKey(target string) string    { return KeyPrefix + "vulnscan:" + target }

// Envelope wraps every broker message.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope around payload with the current UTC time and
// a fresh message ID.
func NewEnvelope(agent, kind string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Type:      kind,
		Data:      data,
	}, nil
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes the envelope.
func (e *Envelope) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// ContainerStatus is the container lifecycle status.
type ContainerStatus string

const (
	StatusRunning    ContainerStatus = "running"
	StatusExited     ContainerStatus = "exited"
	StatusRestarting ContainerStatus = "restarting"
	StatusPaused     ContainerStatus = "paused"
	StatusDead       ContainerStatus = "dead"
	StatusUnknown    ContainerStatus = "unknown"
)

// HealthStatus is the runtime healthcheck verdict for a container.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthNone      HealthStatus = "none"
)

// AnomalyType labels a threshold breach or lifecycle deviation.
type AnomalyType string

const (
	AnomalyHighCPU           AnomalyType = "high_cpu"
	AnomalyHighMemory        AnomalyType = "high_memory"
	AnomalyUnhealthyStatus   AnomalyType = "unhealthy_status"
	AnomalyNonZeroExit       AnomalyType = "non_zero_exit"
	AnomalyExcessiveRestarts AnomalyType = "excessive_restarts"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Verdict is the Analyzer's classification of an alert.
type Verdict string

const (
	VerdictRealIssue  Verdict = "real_issue"
	VerdictFalseAlarm Verdict = "false_alarm"
)

// Action is the remediation vocabulary.
type Action string

const (
	ActionRestart Action = "restart"
	ActionScaleUp Action = "scale_up"
	ActionCleanup Action = "cleanup"
	ActionExec    Action = "exec"
	ActionNone    Action = "none"
)

// Result is the outcome of one remediation attempt.
type Result string

const (
	ResultSuccess       Result = "success"
	ResultFailed        Result = "failed"
	ResultRejected      Result = "rejected"
	ResultNotApplicable Result = "not_applicable"
)

// RejectionReason explains a rejected remediation.
type RejectionReason string

const (
	RejectCooldownActive    RejectionReason = "cooldown_active"
	RejectCircuitOpen       RejectionReason = "circuit_open"
	RejectDryRunSkipped     RejectionReason = "dry_run_skipped"
	RejectUnknownContainer  RejectionReason = "unknown_container"
	RejectUnsupportedAction RejectionReason = "unsupported_action"
)

// AnalysisMethod records which classifier produced a decision.
type AnalysisMethod string

const (
	MethodModel AnalysisMethod = "model"
	MethodRule  AnalysisMethod = "rule"
)

// Metrics are the resource gauges and cumulative counters of one sample.
type Metrics struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryBytes     uint64  `json:"memory_bytes"`
	MemoryLimit     uint64  `json:"memory_limit"`
	NetRxBytes      uint64  `json:"net_rx_bytes"`
	NetTxBytes      uint64  `json:"net_tx_bytes"`
	BlkioReadBytes  uint64  `json:"blkio_read_bytes"`
	BlkioWriteBytes uint64  `json:"blkio_write_bytes"`
}

// ContainerSample is one sampling observation of one container. CPUValid is
// false on the first cycle after a container appears: the CPU formula needs
// two consecutive cumulative readings.
type ContainerSample struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Image        string          `json:"image"`
	Status       ContainerStatus `json:"status"`
	Metrics      Metrics         `json:"metrics"`
	CPUValid     bool            `json:"cpu_valid"`
	HealthStatus HealthStatus    `json:"health_status"`
	ExitCode     int             `json:"exit_code"`
	RestartCount int             `json:"restart_count"`
	SampledAt    time.Time       `json:"sampled_at"`
}

// Anomaly is a labeled deviation attached to a sample.
type Anomaly struct {
	Type      AnomalyType `json:"type"`
	Severity  Severity    `json:"severity"`
	Threshold float64     `json:"threshold"`
	Actual    float64     `json:"actual"`
}

// HealthAlert is the Monitor → Analyzer payload.
type HealthAlert struct {
	Container    string          `json:"container"`
	ContainerID  string          `json:"container_id"`
	Image        string          `json:"image,omitempty"`
	Issues       []Anomaly       `json:"issues"`
	Metrics      Metrics         `json:"metrics"`
	Status       ContainerStatus `json:"status"`
	RestartCount int             `json:"restart_count"`
	ExitCode     int             `json:"exit_code"`
	HealthStatus HealthStatus    `json:"health_status"`
}

// Decision is the Analyzer's classification of one HealthAlert.
type Decision struct {
	Verdict        Verdict        `json:"verdict"`
	Action         Action         `json:"action"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
}

// RemediationRequest is the Analyzer → Responder payload. AlertTimestamp is
// the originating alert's envelope timestamp, used to correlate the Outcome.
type RemediationRequest struct {
	Container      string    `json:"container"`
	ContainerID    string    `json:"container_id"`
	Action         Action    `json:"action"`
	Command        []string  `json:"command,omitempty"`
	Reason         string    `json:"reason"`
	Confidence     float64   `json:"confidence"`
	Metrics        Metrics   `json:"metrics"`
	AlertTimestamp time.Time `json:"alert_timestamp"`
}

// RemediationOutcome is the Responder → Alert payload.
type RemediationOutcome struct {
	Container       string          `json:"container"`
	ContainerID     string          `json:"container_id"`
	Action          Action          `json:"action"`
	Result          Result          `json:"result"`
	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	DryRun          bool            `json:"dry_run"`
	Reason          string          `json:"reason,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
	Attempt         int             `json:"attempt"`
	AlertTimestamp  time.Time       `json:"alert_timestamp,omitempty"`
}

// FalseAlarm is the Analyzer → Alert payload.
type FalseAlarm struct {
	Container      string         `json:"container"`
	ContainerID    string         `json:"container_id"`
	Reason         string         `json:"reason"`
	Confidence     float64        `json:"confidence"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
}

// EventRecord is the wrapper placed in the bounded per-kind UI lists.
type EventRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Publisher string          `json:"publisher"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// CooldownRecord tracks the last successful action per container.
type CooldownRecord struct {
	LastActionTimestamp time.Time `json:"last_action_timestamp"`
	LastActionKind      Action    `json:"last_action_kind"`
}

// AuditEntry is one row of the per-container audit trail.
type AuditEntry struct {
	Timestamp       time.Time       `json:"timestamp"`
	Action          Action          `json:"action"`
	Result          Result          `json:"result"`
	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	DryRun          bool            `json:"dry_run"`
	Reason          string          `json:"reason,omitempty"`
	Error           string          `json:"error,omitempty"`
	Output          string          `json:"output,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
}

// VulnerabilityFinding is one high-risk finding from a security scan.
type VulnerabilityFinding struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Param       string `json:"param,omitempty"`
	Description string `json:"description,omitempty"`
	Solution    string `json:"solution,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// ScanReport summarizes one vulnerability scan of one target, cached in the
// keyed store for UI consumption.
type ScanReport struct {
	Timestamp     time.Time              `json:"timestamp"`
	TargetURL     string                 `json:"target_url"`
	TotalFindings int                    `json:"total_findings"`
	RiskSummary   map[string]int         `json:"risk_summary"`
	Critical      []VulnerabilityFinding `json:"critical_findings,omitempty"`
}

// VulnerabilityAlert is the Scanner → Alert payload, published when a scan
// turns up high-risk findings.
type VulnerabilityAlert struct {
	TargetURL     string                 `json:"target_url"`
	CriticalCount int                    `json:"critical_count"`
	TotalFindings int                    `json:"total_findings"`
	Critical      []VulnerabilityFinding `json:"critical_findings,omitempty"`
}

// HistoryEntry is one row of the Analyzer's per-container alert history.
type HistoryEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	Anomalies     []AnomalyType `json:"anomalies"`
}
