package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name  string
		field string
		want  any
		got   any
	}{
		{"broker addr", "broker.addr", "localhost:6379", cfg.Broker.Addr},
		{"reconnect attempts", "broker.max_reconnect_attempts", 10, cfg.Broker.MaxReconnectAttempts},
		{"logging level", "logging.level", "info", cfg.Logging.Level},
		{"logging format", "logging.format", "json", cfg.Logging.Format},
		{"poll interval", "monitor.poll_interval_seconds", 30, cfg.Monitor.PollIntervalSeconds},
		{"cpu threshold", "monitor.cpu_threshold", 85.0, cfg.Monitor.CPUThreshold},
		{"memory threshold", "monitor.memory_threshold", 80.0, cfg.Monitor.MemoryThreshold},
		{"confidence threshold", "analyzer.confidence_threshold", 0.7, cfg.Analyzer.ConfidenceThreshold},
		{"model deadline", "analyzer.model_deadline_ms", 10000, cfg.Analyzer.ModelDeadlineMS},
		{"model fallback", "analyzer.model_fallback_enabled", true, cfg.Analyzer.ModelFallbackEnabled},
		{"cooldown", "responder.cooldown_seconds", 300, cfg.Responder.CooldownSeconds},
		{"circuit window", "responder.circuit_window_seconds", 3600, cfg.Responder.CircuitWindowSeconds},
		{"max retries", "responder.max_retries_per_window", 3, cfg.Responder.MaxRetriesPerWindow},
		{"parallel actions", "responder.max_parallel_actions", 4, cfg.Responder.MaxParallelActions},
		{"action deadline", "responder.action_deadline_ms", 30000, cfg.Responder.ActionDeadlineMS},
		{"dedupe ttl", "alert.dedupe_ttl_seconds", 60, cfg.Alert.DedupeTTLSeconds},
		{"events cap", "alert.max_events_per_kind", 100, cfg.Alert.MaxEventsPerKind},
		{"events ttl", "alert.events_ttl_seconds", 3600, cfg.Alert.EventsTTLSeconds},
		{"zap base url", "scanner.zap_base_url", "http://zap:8080", cfg.Scanner.ZAPBaseURL},
		{"scan interval", "scanner.scan_interval_seconds", 3600, cfg.Scanner.ScanIntervalSeconds},
		{"scan timeout", "scanner.scan_timeout_seconds", 1800, cfg.Scanner.ScanTimeoutSeconds},
		{"drain deadline", "agent.drain_deadline_ms", 10000, cfg.Agent.DrainDeadlineMS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %s = %v, got %v", tt.field, tt.want, tt.got)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default config is valid", func(c *Config) {}, false},
		{"missing broker addr", func(c *Config) { c.Broker.Addr = "" }, true},
		{"invalid logging level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"invalid logging format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"zero poll interval", func(c *Config) { c.Monitor.PollIntervalSeconds = 0 }, true},
		{"memory threshold above 100", func(c *Config) { c.Monitor.MemoryThreshold = 120 }, true},
		{"confidence above 1", func(c *Config) { c.Analyzer.ConfidenceThreshold = 1.5 }, true},
		{"model enabled without api key", func(c *Config) { c.Analyzer.ModelEnabled = true }, true},
		{
			"model enabled with key and model",
			func(c *Config) {
				c.Analyzer.ModelEnabled = true
				c.LLM.OpenAI.APIKey = "sk-test-key-valid"
				c.LLM.OpenAI.Model = "gpt-4o-mini"
			},
			false,
		},
		{"short api key", func(c *Config) {
			c.Analyzer.ModelEnabled = true
			c.LLM.OpenAI.APIKey = "short"
			c.LLM.OpenAI.Model = "gpt-4o-mini"
		}, true},
		{"zero max retries", func(c *Config) { c.Responder.MaxRetriesPerWindow = 0 }, true},
		{"action deadline too small", func(c *Config) { c.Responder.ActionDeadlineMS = 100 }, true},
		{"notifications without webhook", func(c *Config) { c.Alert.NotificationsEnabled = true }, true},
		{
			"notifications with non-http webhook",
			func(c *Config) {
				c.Alert.NotificationsEnabled = true
				c.Alert.WebhookURL = "ftp://example.com/hook"
			},
			true,
		},
		{
			"notifications with valid webhook",
			func(c *Config) {
				c.Alert.NotificationsEnabled = true
				c.Alert.WebhookURL = "https://hooks.example.com/T000/B000/xyz"
			},
			false,
		},
		{"zero scan interval", func(c *Config) { c.Scanner.ScanIntervalSeconds = 0 }, true},
		{
			"scan targets with non-http zap url",
			func(c *Config) {
				c.Scanner.Targets = []string{"http://svc-a"}
				c.Scanner.ZAPBaseURL = "zap:8080"
			},
			true,
		},
		{
			"scan targets with valid zap url",
			func(c *Config) { c.Scanner.Targets = []string{"http://svc-a"} },
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.wantErr && len(errs) == 0 {
				t.Errorf("Expected validation errors, got none")
			}
			if !tt.wantErr && len(errs) != 0 {
				t.Errorf("Expected no validation errors, got %v", errs)
			}
		})
	}
}

func TestLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hemostat.toml")

	content := `
[broker]
addr = "${HEMOSTAT_REDIS_ADDR:redis:6379}"

[monitor]
cpu_threshold = 90.0

[llm.openai]
api_key = "${HEMOSTAT_TEST_API_KEY:}"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("HEMOSTAT_TEST_API_KEY", "sk-from-env-0123456789")
	defer os.Unsetenv("HEMOSTAT_TEST_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Broker.Addr != "redis:6379" {
		t.Errorf("Expected broker.addr from env default, got %s", cfg.Broker.Addr)
	}
	if cfg.Monitor.CPUThreshold != 90.0 {
		t.Errorf("Expected cpu_threshold 90, got %v", cfg.Monitor.CPUThreshold)
	}
	if cfg.Monitor.MemoryThreshold != 80.0 {
		t.Errorf("Expected default memory_threshold 80, got %v", cfg.Monitor.MemoryThreshold)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-from-env-0123456789" {
		t.Errorf("Expected api_key from env, got %s", cfg.LLM.OpenAI.APIKey)
	}
	if !cfg.Analyzer.ModelFallbackEnabled {
		t.Errorf("Expected model_fallback_enabled default true")
	}
}

func TestLoadFallbackExplicitlyDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hemostat.toml")

	content := `
[analyzer]
model_fallback_enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Analyzer.ModelFallbackEnabled {
		t.Errorf("Expected explicit model_fallback_enabled=false to survive defaults")
	}
}

func TestMasked(t *testing.T) {
	cfg := Default()
	cfg.Broker.Password = "supersecretpassword"
	cfg.LLM.OpenAI.APIKey = "sk-abcdef0123456789"
	cfg.Alert.WebhookURL = "https://hooks.example.com/T000/B000/secrettoken"

	masked := cfg.Masked()

	if masked.Broker.Password == cfg.Broker.Password {
		t.Errorf("Expected broker password to be masked")
	}
	if !strings.HasPrefix(masked.LLM.OpenAI.APIKey, "sk-a") {
		t.Errorf("Expected masked key to keep prefix, got %s", masked.LLM.OpenAI.APIKey)
	}
	if strings.Contains(masked.Alert.WebhookURL, "secrettoken") {
		t.Errorf("Expected webhook token to be masked, got %s", masked.Alert.WebhookURL)
	}
	if !strings.Contains(masked.Alert.WebhookURL, "hooks.example.com") {
		t.Errorf("Expected webhook host to stay visible, got %s", masked.Alert.WebhookURL)
	}
}
