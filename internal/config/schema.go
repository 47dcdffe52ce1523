// Package config provides configuration loading and validation for HemoStat.
// It supports TOML configuration files with environment variable expansion,
// default values, and comprehensive validation.
//
// Configuration structure:
//   - [broker]: Redis broker address and reconnect behavior
//   - [logging]: Logging level, format, and output
//   - [monitor]: Sampling period and anomaly thresholds
//   - [analyzer]: Classifier selection, confidence gate, history window
//   - [llm.openai]: OpenAI-compatible model endpoint
//   - [responder]: Safety machinery and action execution limits
//   - [alert]: Notification delivery, dedup, and UI event lists
//   - [scanner]: Vulnerability scan targets and ZAP endpoint
//   - [agent]: Shared agent runtime settings
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax. For example: api_key = "${OPENAI_API_KEY:}"
package config

// Config represents the main application configuration.
type Config struct {
	Broker    BrokerConfig    `toml:"broker"`
	Logging   LoggingConfig   `toml:"logging"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Analyzer  AnalyzerConfig  `toml:"analyzer"`
	LLM       LLMConfig       `toml:"llm"`
	Responder ResponderConfig `toml:"responder"`
	Alert     AlertConfig     `toml:"alert"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Agent     AgentConfig     `toml:"agent"`
}

// BrokerConfig holds the Redis broker connection settings.
type BrokerConfig struct {
	Addr                 string `toml:"addr"`
	Password             string `toml:"password"`
	DB                   int    `toml:"db"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectCapSeconds  int    `toml:"reconnect_cap_seconds"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MonitorConfig holds the Monitor agent settings.
type MonitorConfig struct {
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	CPUThreshold        float64 `toml:"cpu_threshold"`
	MemoryThreshold     float64 `toml:"memory_threshold"`
	RestartThreshold    int     `toml:"restart_threshold"`
	StatsTTLSeconds     int     `toml:"stats_ttl_seconds"`
}

// AnalyzerConfig holds the Analyzer agent settings.
type AnalyzerConfig struct {
	ModelEnabled         bool    `toml:"model_enabled"`
	ModelFallbackEnabled bool    `toml:"model_fallback_enabled"`
	ModelDeadlineMS      int     `toml:"model_deadline_ms"`
	ConfidenceThreshold  float64 `toml:"confidence_threshold"`
	RulesPath            string  `toml:"rules_path"`
	HistorySize          int     `toml:"history_size"`
	HistoryTTLSeconds    int     `toml:"history_ttl_seconds"`
}

// LLMConfig holds the model endpoint configuration.
type LLMConfig struct {
	OpenAI OpenAIConfig `toml:"openai"`
}

// OpenAIConfig holds the OpenAI-compatible endpoint settings.
type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ResponderConfig holds the Responder agent settings.
type ResponderConfig struct {
	DryRun               bool `toml:"dry_run"`
	CooldownSeconds      int  `toml:"cooldown_seconds"`
	CircuitWindowSeconds int  `toml:"circuit_window_seconds"`
	MaxRetriesPerWindow  int  `toml:"max_retries_per_window"`
	MaxParallelActions   int  `toml:"max_parallel_actions"`
	ActionDeadlineMS     int  `toml:"action_deadline_ms"`
	StopTimeoutSeconds   int  `toml:"stop_timeout_seconds"`
	EnforceExecAllowlist bool `toml:"enforce_exec_allowlist"`
	AuditMaxEntries      int  `toml:"audit_max_entries"`
	AuditTTLSeconds      int  `toml:"audit_ttl_seconds"`
	MaxActionsPerMinute  int  `toml:"max_actions_per_minute"`
	DaemonBreakerTrips   int  `toml:"daemon_breaker_trips"`
	DaemonBreakerReset   int  `toml:"daemon_breaker_reset_seconds"`
}

// AlertConfig holds the Alert agent settings.
type AlertConfig struct {
	NotificationsEnabled  bool   `toml:"notifications_enabled"`
	WebhookURL            string `toml:"webhook_url"`
	WebhookTimeoutSeconds int    `toml:"webhook_timeout_seconds"`
	WebhookMaxAttempts    int    `toml:"webhook_max_attempts"`
	DedupeTTLSeconds      int    `toml:"dedupe_ttl_seconds"`
	MaxEventsPerKind      int    `toml:"max_events_per_kind"`
	EventsTTLSeconds      int    `toml:"events_ttl_seconds"`
}

// ScannerConfig holds the vulnerability scanner agent settings.
type ScannerConfig struct {
	ZAPBaseURL          string   `toml:"zap_base_url"`
	APITimeoutSeconds   int      `toml:"api_timeout_seconds"`
	ScanIntervalSeconds int      `toml:"scan_interval_seconds"`
	ScanTimeoutSeconds  int      `toml:"scan_timeout_seconds"`
	Targets             []string `toml:"targets"`
	ReportTTLSeconds    int      `toml:"report_ttl_seconds"`
}

// AgentConfig holds the shared agent runtime settings.
type AgentConfig struct {
	DrainDeadlineMS int `toml:"drain_deadline_ms"`
}
