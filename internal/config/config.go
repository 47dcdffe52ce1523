package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads configuration from a TOML file, applies defaults, and expands
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	// Fallback is on unless the file explicitly turns it off. A zero bool
	// cannot express that, so consult the decode metadata.
	if !md.IsDefined("analyzer", "model_fallback_enabled") {
		cfg.Analyzer.ModelFallbackEnabled = true
	}

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, usable without
// a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Analyzer.ModelFallbackEnabled = true
	return &cfg
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errors []error

	if c.Broker.Addr == "" {
		errors = append(errors, fmt.Errorf("broker.addr is required"))
	}
	if c.Broker.MaxReconnectAttempts < 1 {
		errors = append(errors, fmt.Errorf("broker.max_reconnect_attempts must be >= 1"))
	}

	if c.Logging.Level == "" {
		errors = append(errors, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format == "" {
		errors = append(errors, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}
	if c.Logging.Output == "" {
		errors = append(errors, fmt.Errorf("logging.output is required"))
	}

	if c.Monitor.PollIntervalSeconds < 1 {
		errors = append(errors, fmt.Errorf("monitor.poll_interval_seconds must be >= 1"))
	}
	if c.Monitor.CPUThreshold <= 0 {
		errors = append(errors, fmt.Errorf("monitor.cpu_threshold must be > 0"))
	}
	if c.Monitor.MemoryThreshold <= 0 || c.Monitor.MemoryThreshold > 100 {
		errors = append(errors, fmt.Errorf("monitor.memory_threshold must be in (0, 100]"))
	}

	if c.Analyzer.ConfidenceThreshold < 0 || c.Analyzer.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Errorf("analyzer.confidence_threshold must be in [0, 1]"))
	}
	if c.Analyzer.ModelDeadlineMS < 100 {
		errors = append(errors, fmt.Errorf("analyzer.model_deadline_ms must be >= 100"))
	}
	if c.Analyzer.ModelEnabled {
		if c.LLM.OpenAI.APIKey == "" {
			errors = append(errors, fmt.Errorf("llm.openai.api_key is required when analyzer.model_enabled=true"))
		} else if err := validateAPIKey(c.LLM.OpenAI.APIKey, "llm.openai.api_key"); err != nil {
			errors = append(errors, err)
		}
		if c.LLM.OpenAI.Model == "" {
			errors = append(errors, fmt.Errorf("llm.openai.model is required when analyzer.model_enabled=true"))
		}
	}

	if c.Responder.CooldownSeconds < 0 {
		errors = append(errors, fmt.Errorf("responder.cooldown_seconds must be >= 0"))
	}
	if c.Responder.CircuitWindowSeconds < 1 {
		errors = append(errors, fmt.Errorf("responder.circuit_window_seconds must be >= 1"))
	}
	if c.Responder.MaxRetriesPerWindow < 1 {
		errors = append(errors, fmt.Errorf("responder.max_retries_per_window must be >= 1"))
	}
	if c.Responder.MaxParallelActions < 1 {
		errors = append(errors, fmt.Errorf("responder.max_parallel_actions must be >= 1"))
	}
	if c.Responder.ActionDeadlineMS < 1000 {
		errors = append(errors, fmt.Errorf("responder.action_deadline_ms must be >= 1000"))
	}

	if c.Alert.NotificationsEnabled {
		if c.Alert.WebhookURL == "" {
			errors = append(errors, fmt.Errorf("alert.webhook_url is required when alert.notifications_enabled=true"))
		} else if !strings.HasPrefix(c.Alert.WebhookURL, "http://") && !strings.HasPrefix(c.Alert.WebhookURL, "https://") {
			errors = append(errors, fmt.Errorf("invalid alert.webhook_url: %s (expected http(s) URL)", maskWebhookURL(c.Alert.WebhookURL)))
		}
	}
	if c.Alert.MaxEventsPerKind < 1 {
		errors = append(errors, fmt.Errorf("alert.max_events_per_kind must be >= 1"))
	}
	if c.Alert.DedupeTTLSeconds < 1 {
		errors = append(errors, fmt.Errorf("alert.dedupe_ttl_seconds must be >= 1"))
	}

	if c.Scanner.ScanIntervalSeconds < 1 {
		errors = append(errors, fmt.Errorf("scanner.scan_interval_seconds must be >= 1"))
	}
	if c.Scanner.ScanTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("scanner.scan_timeout_seconds must be >= 1"))
	}
	if len(c.Scanner.Targets) > 0 {
		if !strings.HasPrefix(c.Scanner.ZAPBaseURL, "http://") && !strings.HasPrefix(c.Scanner.ZAPBaseURL, "https://") {
			errors = append(errors, fmt.Errorf("invalid scanner.zap_base_url: %s (expected http(s) URL)", c.Scanner.ZAPBaseURL))
		}
	}

	if c.Agent.DrainDeadlineMS < 0 {
		errors = append(errors, fmt.Errorf("agent.drain_deadline_ms must be >= 0"))
	}

	return errors
}

func validateAPIKey(key, fieldName string) error {
	if key == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if len(key) < 10 {
		return fmt.Errorf("%s is too short (minimum 10 characters, got %d)", fieldName, len(key))
	}
	return nil
}

// applyDefaults fills zero-valued fields with the documented defaults.
func applyDefaults(c *Config) {
	if c.Broker.Addr == "" {
		c.Broker.Addr = "localhost:6379"
	}
	if c.Broker.MaxReconnectAttempts == 0 {
		c.Broker.MaxReconnectAttempts = 10
	}
	if c.Broker.ReconnectCapSeconds == 0 {
		c.Broker.ReconnectCapSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Monitor.PollIntervalSeconds == 0 {
		c.Monitor.PollIntervalSeconds = 30
	}
	if c.Monitor.CPUThreshold == 0 {
		c.Monitor.CPUThreshold = 85
	}
	if c.Monitor.MemoryThreshold == 0 {
		c.Monitor.MemoryThreshold = 80
	}
	if c.Monitor.RestartThreshold == 0 {
		c.Monitor.RestartThreshold = 5
	}
	if c.Monitor.StatsTTLSeconds == 0 {
		c.Monitor.StatsTTLSeconds = 300
	}

	if c.Analyzer.ConfidenceThreshold == 0 {
		c.Analyzer.ConfidenceThreshold = 0.7
	}
	if c.Analyzer.ModelDeadlineMS == 0 {
		c.Analyzer.ModelDeadlineMS = 10000
	}
	if c.Analyzer.HistorySize == 0 {
		c.Analyzer.HistorySize = 10
	}
	if c.Analyzer.HistoryTTLSeconds == 0 {
		c.Analyzer.HistoryTTLSeconds = 3600
	}

	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.TimeoutSeconds == 0 {
		c.LLM.OpenAI.TimeoutSeconds = 10
	}

	if c.Responder.CooldownSeconds == 0 {
		c.Responder.CooldownSeconds = 300
	}
	if c.Responder.CircuitWindowSeconds == 0 {
		c.Responder.CircuitWindowSeconds = 3600
	}
	if c.Responder.MaxRetriesPerWindow == 0 {
		c.Responder.MaxRetriesPerWindow = 3
	}
	if c.Responder.MaxParallelActions == 0 {
		c.Responder.MaxParallelActions = 4
	}
	if c.Responder.ActionDeadlineMS == 0 {
		c.Responder.ActionDeadlineMS = 30000
	}
	if c.Responder.StopTimeoutSeconds == 0 {
		c.Responder.StopTimeoutSeconds = 10
	}
	if c.Responder.AuditMaxEntries == 0 {
		c.Responder.AuditMaxEntries = 100
	}
	if c.Responder.AuditTTLSeconds == 0 {
		c.Responder.AuditTTLSeconds = 86400
	}
	if c.Responder.MaxActionsPerMinute == 0 {
		c.Responder.MaxActionsPerMinute = 60
	}
	if c.Responder.DaemonBreakerTrips == 0 {
		c.Responder.DaemonBreakerTrips = 5
	}
	if c.Responder.DaemonBreakerReset == 0 {
		c.Responder.DaemonBreakerReset = 30
	}

	if c.Alert.WebhookTimeoutSeconds == 0 {
		c.Alert.WebhookTimeoutSeconds = 5
	}
	if c.Alert.WebhookMaxAttempts == 0 {
		c.Alert.WebhookMaxAttempts = 3
	}
	if c.Alert.DedupeTTLSeconds == 0 {
		c.Alert.DedupeTTLSeconds = 60
	}
	if c.Alert.MaxEventsPerKind == 0 {
		c.Alert.MaxEventsPerKind = 100
	}
	if c.Alert.EventsTTLSeconds == 0 {
		c.Alert.EventsTTLSeconds = 3600
	}

	if c.Scanner.ZAPBaseURL == "" {
		c.Scanner.ZAPBaseURL = "http://zap:8080"
	}
	if c.Scanner.APITimeoutSeconds == 0 {
		c.Scanner.APITimeoutSeconds = 30
	}
	if c.Scanner.ScanIntervalSeconds == 0 {
		c.Scanner.ScanIntervalSeconds = 3600
	}
	if c.Scanner.ScanTimeoutSeconds == 0 {
		c.Scanner.ScanTimeoutSeconds = 1800
	}
	if c.Scanner.ReportTTLSeconds == 0 {
		c.Scanner.ReportTTLSeconds = 86400
	}

	if c.Agent.DrainDeadlineMS == 0 {
		c.Agent.DrainDeadlineMS = 10000
	}
}

// expandEnvVars expands environment variable references in secret-bearing and
// path-bearing fields.
func expandEnvVars(c *Config) error {
	if strings.HasPrefix(c.Broker.Addr, "${") {
		c.Broker.Addr = expandEnv(c.Broker.Addr)
	}
	if strings.HasPrefix(c.Broker.Password, "${") {
		c.Broker.Password = expandEnv(c.Broker.Password)
	}
	if strings.HasPrefix(c.LLM.OpenAI.APIKey, "${") {
		c.LLM.OpenAI.APIKey = expandEnv(c.LLM.OpenAI.APIKey)
	}
	if strings.HasPrefix(c.Alert.WebhookURL, "${") {
		c.Alert.WebhookURL = expandEnv(c.Alert.WebhookURL)
	}
	if strings.HasPrefix(c.Scanner.ZAPBaseURL, "${") {
		c.Scanner.ZAPBaseURL = expandEnv(c.Scanner.ZAPBaseURL)
	}
	if strings.HasPrefix(c.Analyzer.RulesPath, "${") {
		c.Analyzer.RulesPath = expandEnv(c.Analyzer.RulesPath)
	}
	c.Analyzer.RulesPath = expandHome(c.Analyzer.RulesPath)

	return nil
}

// expandEnv expands a ${VAR:default} reference.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	return os.Getenv(s[2:end])
}

// expandHome expands a leading ~ in a path.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
