package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hemostat",
	Short: "HemoStat - autonomous container-health control plane",
	Long: `HemoStat watches container health, classifies anomalies, and applies
bounded self-healing actions. Four agents (monitor, analyzer, responder,
alert) cooperate exclusively through a Redis broker.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
}
