package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/domain/limits"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration file and print the effective settings.

Examples:
  meterline validate
  meterline validate --config /etc/meterline/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Server:           %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Database:         %s (%s)\n", cfg.Database.Driver, cfg.Database.DSN)
	fmt.Printf("  Payment provider: %s\n", cfg.Billing.Provider)
	fmt.Printf("  Platform fee:     %d cents\n", cfg.Billing.PlatformFeeCents)
	fmt.Printf("  Email provider:   %s\n", cfg.Email.Provider)
	fmt.Printf("  Priced models:    %d\n", len(cfg.Pricing))

	reg := cfg.LimitsRegistry()
	free := reg.ForPlan(limits.PlanFree)
	premium := reg.ForPlan(limits.PlanPremium)
	fmt.Printf("  Free tier:        %d tokens/day, %d tokens/month\n",
		free.ChatTokensDaily, free.ChatTokensMonthly)
	fmt.Printf("  Premium tier:     %d tokens/day, %d tokens/month\n",
		premium.ChatTokensDaily, premium.ChatTokensMonthly)
	return nil
}
