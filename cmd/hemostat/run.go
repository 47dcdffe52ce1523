package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hemostat/hemostat/internal/agent"
	"github.com/hemostat/hemostat/internal/alert"
	"github.com/hemostat/hemostat/internal/analyzer"
	"github.com/hemostat/hemostat/internal/broker"
	"github.com/hemostat/hemostat/internal/config"
	"github.com/hemostat/hemostat/internal/llm"
	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/metrics"
	"github.com/hemostat/hemostat/internal/monitor"
	"github.com/hemostat/hemostat/internal/responder"
	"github.com/hemostat/hemostat/internal/runtime"
	"github.com/hemostat/hemostat/internal/scanner"
	"github.com/hemostat/hemostat/internal/version"
)

var (
	runConfigPath string
	runLogLevel   string
	runAgents     string
	runDryRun     bool
)

var allAgents = []string{"monitor", "analyzer", "responder", "alert", "scanner"}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start HemoStat agents (main command)",
	Long: `Start the HemoStat agent set against the configured broker and
container runtime. By default all agents run in one process; --agents
selects a subset for split deployments.`,
	Run: runHandler,
}

func runHandler(cmd *cobra.Command, args []string) {
	if err := config.LoadEnvOptional("./.env"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := runConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if runLogLevel != "" {
		cfg.Logging.Level = runLogLevel
	}
	if runDryRun {
		cfg.Responder.DryRun = true
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration validation failed:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(1)
	}

	selected, err := selectAgents(runAgents)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	log.Info(version.FormatStartupMessage(),
		logger.Field{Key: "git_commit", Value: GitCommit},
		logger.Field{Key: "agents", Value: strings.Join(selected, ",")},
		logger.Field{Key: "broker", Value: cfg.Broker.Addr},
		logger.Field{Key: "dry_run", Value: cfg.Responder.DryRun})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Init("hemostat", nil)

	brk := broker.New(broker.Config{
		Addr:                 cfg.Broker.Addr,
		Password:             cfg.Broker.Password,
		DB:                   cfg.Broker.DB,
		MaxReconnectAttempts: cfg.Broker.MaxReconnectAttempts,
		ReconnectCap:         time.Duration(cfg.Broker.ReconnectCapSeconds) * time.Second,
	}, log)
	brk.OnReconnect(m.RecordReconnect)
	defer brk.Close()

	// The container runtime is only dialed when an agent needs it.
	var rt runtime.Runtime
	if contains(selected, "monitor") || contains(selected, "responder") {
		docker, err := runtime.NewDockerRuntime(ctx)
		if err != nil {
			log.Error("Failed to connect to container runtime", err)
			os.Exit(1)
		}
		defer docker.Close()
		rt = runtime.NewGuarded(docker,
			runtime.NewBreaker(cfg.Responder.DaemonBreakerTrips,
				time.Duration(cfg.Responder.DaemonBreakerReset)*time.Second),
			runtime.NewRateLimiter(cfg.Responder.MaxActionsPerMinute))
	}

	drain := time.Duration(cfg.Agent.DrainDeadlineMS) * time.Millisecond
	agents := make([]*agent.Agent, 0, len(selected))

	for _, name := range selected {
		a := agent.New(name, brk, log, drain)
		switch name {
		case "monitor":
			monitor.New(a, rt, monitor.Config{
				PollInterval: time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second,
				Thresholds: monitor.Thresholds{
					CPU:          cfg.Monitor.CPUThreshold,
					Memory:       cfg.Monitor.MemoryThreshold,
					RestartCount: cfg.Monitor.RestartThreshold,
				},
				StatsTTL: time.Duration(cfg.Monitor.StatsTTLSeconds) * time.Second,
			}, m)
		case "analyzer":
			rules, err := analyzer.NewRuleClassifier(cfg.Analyzer.RulesPath)
			if err != nil {
				log.Error("Failed to load rule table", err)
				os.Exit(1)
			}
			var primary analyzer.Classifier
			if cfg.Analyzer.ModelEnabled {
				provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
					APIKey:         cfg.LLM.OpenAI.APIKey,
					BaseURL:        cfg.LLM.OpenAI.BaseURL,
					Model:          cfg.LLM.OpenAI.Model,
					TimeoutSeconds: cfg.LLM.OpenAI.TimeoutSeconds,
				}, log)
				primary = analyzer.NewModelClassifier(provider, cfg.LLM.OpenAI.Model,
					time.Duration(cfg.Analyzer.ModelDeadlineMS)*time.Millisecond)
			}
			analyzer.New(a, primary, rules, analyzer.Config{
				ConfidenceThreshold: cfg.Analyzer.ConfidenceThreshold,
				HistorySize:         int64(cfg.Analyzer.HistorySize),
				HistoryTTL:          time.Duration(cfg.Analyzer.HistoryTTLSeconds) * time.Second,
				FallbackEnabled:     cfg.Analyzer.ModelFallbackEnabled,
			}, m)
		case "responder":
			responder.New(a, rt, responder.Config{
				DryRun:               cfg.Responder.DryRun,
				Cooldown:             time.Duration(cfg.Responder.CooldownSeconds) * time.Second,
				CircuitWindow:        time.Duration(cfg.Responder.CircuitWindowSeconds) * time.Second,
				MaxRetriesPerWindow:  cfg.Responder.MaxRetriesPerWindow,
				MaxParallel:          cfg.Responder.MaxParallelActions,
				ActionDeadline:       time.Duration(cfg.Responder.ActionDeadlineMS) * time.Millisecond,
				StopTimeoutSeconds:   cfg.Responder.StopTimeoutSeconds,
				EnforceExecAllowlist: cfg.Responder.EnforceExecAllowlist,
				AuditMax:             int64(cfg.Responder.AuditMaxEntries),
				AuditTTL:             time.Duration(cfg.Responder.AuditTTLSeconds) * time.Second,
			}, m)
		case "alert":
			var sink alert.Sink
			if cfg.Alert.WebhookURL != "" {
				sink = alert.NewWebhookClient(cfg.Alert.WebhookURL,
					time.Duration(cfg.Alert.WebhookTimeoutSeconds)*time.Second,
					cfg.Alert.WebhookMaxAttempts)
			}
			alert.New(a, sink, alert.Config{
				NotificationsEnabled: cfg.Alert.NotificationsEnabled,
				DedupeTTL:            time.Duration(cfg.Alert.DedupeTTLSeconds) * time.Second,
				MaxEventsPerKind:     int64(cfg.Alert.MaxEventsPerKind),
				EventsTTL:            time.Duration(cfg.Alert.EventsTTLSeconds) * time.Second,
			}, m)
		case "scanner":
			zap := scanner.NewZAPClient(cfg.Scanner.ZAPBaseURL,
				time.Duration(cfg.Scanner.APITimeoutSeconds)*time.Second)
			scanner.New(a, zap, scanner.Config{
				ScanInterval: time.Duration(cfg.Scanner.ScanIntervalSeconds) * time.Second,
				ScanTimeout:  time.Duration(cfg.Scanner.ScanTimeoutSeconds) * time.Second,
				Targets:      cfg.Scanner.Targets,
				ReportTTL:    time.Duration(cfg.Scanner.ReportTTLSeconds) * time.Second,
			}, m)
		}
		agents = append(agents, a)
	}

	errCh := make(chan error, len(agents))
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *agent.Agent) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				errCh <- fmt.Errorf("agent %s: %w", a.Name(), err)
				stop()
			}
		}(a)
	}

	wg.Wait()

	select {
	case err := <-errCh:
		log.Error("Agent terminated with error", err)
		os.Exit(1)
	default:
	}

	log.Info("HemoStat stopped gracefully")
}

func selectAgents(flag string) ([]string, error) {
	if flag == "" || flag == "all" {
		return allAgents, nil
	}

	var selected []string
	for _, name := range strings.Split(flag, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if !contains(allAgents, name) {
			return nil, fmt.Errorf("unknown agent %q (valid: %s)", name, strings.Join(allAgents, ", "))
		}
		if !contains(selected, name) {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no agents selected")
	}
	return selected, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to configuration file (default: ./config.toml)")
	runCmd.Flags().StringVarP(&runLogLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
	runCmd.Flags().StringVarP(&runAgents, "agents", "a", "all", "Comma-separated agent set to run (monitor,analyzer,responder,alert,scanner)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Force responder dry-run mode")
}
