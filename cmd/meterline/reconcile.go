package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/bootstrap"
	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/ledger"
)

var (
	reconcileUserID string
	reconcileMonth  string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the billing cycle",
	Long: `Run the billing cycle reconciler once.

Without flags, reconciles all premium users for the current month.
With --user, reconciles a single user; --month picks the invoiced
month (default: current).

Examples:
  meterline reconcile
  meterline reconcile --user=user_123
  meterline reconcile --user=user_123 --month=2025-02`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVar(&reconcileUserID, "user", "", "reconcile a single user")
	reconcileCmd.Flags().StringVar(&reconcileMonth, "month", "", "month to invoice (YYYY-MM)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if reconcileUserID == "" {
		return a.Reconciler().Run(ctx)
	}

	month := reconcileMonth
	if month == "" {
		month = ledger.MonthKey(time.Now().UTC())
	}
	res, err := a.Reconciler().GenerateMonthlyInvoice(ctx, reconcileUserID, month)
	if err != nil {
		return err
	}

	fmt.Printf("User:    %s\n", reconcileUserID)
	fmt.Printf("Month:   %s\n", month)
	fmt.Printf("Outcome: %s\n", res.Outcome)
	if res.Outcome == "generated" {
		inv := res.Invoice
		fmt.Printf("Invoice: %s\n", inv.ID)
		fmt.Printf("  Platform fee: %s\n", billing.FormatAmount(inv.PlatformFeeCents))
		fmt.Printf("  API usage:    %s\n", billing.FormatAmount(inv.APIUsageCents))
		fmt.Printf("  Total:        %s\n", billing.FormatAmount(inv.TotalCents))
	}
	return nil
}
