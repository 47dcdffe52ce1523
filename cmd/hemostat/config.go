package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hemostat/hemostat/internal/config"
	"github.com/hemostat/hemostat/internal/logger"
)

const defaultConfigPath = "./config.toml"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and inspect HemoStat configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and check for errors.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log, err := logger.New(logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		configPath := defaultConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		log.Info("Validating configuration", logger.Field{Key: "path", Value: configPath})

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("Failed to load config", err)
			os.Exit(1)
		}

		errors := cfg.Validate()
		if len(errors) > 0 {
			log.Error("Config validation failed", fmt.Errorf("%d errors", len(errors)))
			for _, e := range errors {
				log.Error("Validation error", e)
			}
			os.Exit(1)
		}

		log.Info("Configuration is valid")
	},
}

// configShowCmd prints the effective configuration with secrets masked.
var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show effective configuration",
	Long:  `Print the effective configuration after defaults and environment expansion, with secrets masked.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath := defaultConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}

		masked := cfg.Masked()
		fmt.Printf("broker.addr: %s\n", masked.Broker.Addr)
		fmt.Printf("broker.db: %d\n", masked.Broker.DB)
		fmt.Printf("logging: level=%s format=%s output=%s\n",
			masked.Logging.Level, masked.Logging.Format, masked.Logging.Output)
		fmt.Printf("monitor: poll=%ds cpu=%.0f%% memory=%.0f%% restarts=%d\n",
			masked.Monitor.PollIntervalSeconds, masked.Monitor.CPUThreshold,
			masked.Monitor.MemoryThreshold, masked.Monitor.RestartThreshold)
		fmt.Printf("analyzer: model_enabled=%t fallback=%t confidence=%.2f deadline=%dms\n",
			masked.Analyzer.ModelEnabled, masked.Analyzer.ModelFallbackEnabled,
			masked.Analyzer.ConfidenceThreshold, masked.Analyzer.ModelDeadlineMS)
		fmt.Printf("llm.openai: model=%s base_url=%s api_key=%s\n",
			masked.LLM.OpenAI.Model, masked.LLM.OpenAI.BaseURL, masked.LLM.OpenAI.APIKey)
		fmt.Printf("responder: dry_run=%t cooldown=%ds window=%ds retries=%d parallel=%d\n",
			masked.Responder.DryRun, masked.Responder.CooldownSeconds,
			masked.Responder.CircuitWindowSeconds, masked.Responder.MaxRetriesPerWindow,
			masked.Responder.MaxParallelActions)
		fmt.Printf("alert: notifications=%t webhook=%s dedupe=%ds\n",
			masked.Alert.NotificationsEnabled, masked.Alert.WebhookURL,
			masked.Alert.DedupeTTLSeconds)
		fmt.Printf("scanner: targets=%d zap=%s interval=%ds\n",
			len(masked.Scanner.Targets), masked.Scanner.ZAPBaseURL,
			masked.Scanner.ScanIntervalSeconds)
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
