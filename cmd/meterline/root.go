package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meterline",
	Short: "Usage metering and plan billing for AI-backed apps",
	Long: `Meterline meters per-user AI token usage against plan limits and
runs the billing cycle: plan upgrades and downgrades, prorated final
invoices, and the recurring platform fee.

Quick start:
  meterline serve      # Start the metering core and scheduler
  meterline validate   # Validate configuration

Management:
  meterline usage      # Inspect and adjust usage ledgers
  meterline plans      # Manage plan transitions
  meterline invoices   # List invoices
  meterline reconcile  # Force a billing cycle run`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meterline.yaml", "config file path")
}

// loadConfig loads the config file with env fallback, shared by the
// management commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
