package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/bootstrap"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metering core",
	Long: `Start the meterline server.

The server will:
  - Load configuration from meterline.yaml (or --config)
  - Or load configuration from METERLINE_* environment variables
  - Connect to the database and run migrations
  - Expose health and metrics endpoints
  - Run the billing reconciler on its schedule

Environment variables (for Docker deployments):
  METERLINE_DATABASE_DSN       - Database path (default: meterline.db)
  METERLINE_SERVER_PORT        - Server port (default: 8080)
  METERLINE_BILLING_PROVIDER   - Payment provider: none, stripe, dummy
  METERLINE_STRIPE_SECRET_KEY  - Stripe secret key
  METERLINE_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  meterline serve
  meterline serve --config /etc/meterline/config.yaml
  meterline serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var a *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		a, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := loadConfig()
		if loadErr != nil {
			return loadErr
		}
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
		a, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return a.Run()
}
