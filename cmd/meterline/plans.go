package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/domain/billing"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage plan transitions",
	Long: `Manage user plan transitions.

Examples:
  meterline plans upgrade --user=user_123
  meterline plans complete --user=user_123 --subscription=sub_abc
  meterline plans downgrade --user=user_123
  meterline plans downgrade --user=user_123 --preview
  meterline plans history --user=user_123`,
}

var plansUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Start a premium upgrade checkout",
	RunE:  runPlansUpgrade,
}

var plansCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Finalize a paid upgrade",
	RunE:  runPlansComplete,
}

var plansDowngradeCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Downgrade a premium user with prorated final billing",
	RunE:  runPlansDowngrade,
}

var plansHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's plan change log",
	RunE:  runPlansHistory,
}

var (
	plansUserID         string
	plansSubscriptionID string
	plansPreview        bool
	plansHistoryLimit   int
)

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansUpgradeCmd)
	plansCmd.AddCommand(plansCompleteCmd)
	plansCmd.AddCommand(plansDowngradeCmd)
	plansCmd.AddCommand(plansHistoryCmd)

	for _, c := range []*cobra.Command{plansUpgradeCmd, plansCompleteCmd, plansDowngradeCmd, plansHistoryCmd} {
		c.Flags().StringVar(&plansUserID, "user", "", "user ID (required)")
	}
	plansCompleteCmd.Flags().StringVar(&plansSubscriptionID, "subscription", "", "payment subscription ID (required)")
	plansDowngradeCmd.Flags().BoolVar(&plansPreview, "preview", false, "show the prorated bill without downgrading")
	plansHistoryCmd.Flags().IntVar(&plansHistoryLimit, "limit", 20, "number of events to show")
}

func requirePlansUser() error {
	if plansUserID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func runPlansUpgrade(cmd *cobra.Command, args []string) error {
	if err := requirePlansUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	intent, err := a.Plans().Upgrade(context.Background(), plansUserID)
	if err != nil {
		return err
	}
	fmt.Printf("Checkout session: %s\n", intent.SessionID)
	fmt.Printf("Checkout URL:     %s\n", intent.URL)
	fmt.Println("\nThe plan flips to premium once the checkout completes.")
	return nil
}

func runPlansComplete(cmd *cobra.Command, args []string) error {
	if err := requirePlansUser(); err != nil {
		return err
	}
	if plansSubscriptionID == "" {
		return fmt.Errorf("--subscription is required")
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.Plans().CompleteUpgrade(context.Background(), plansUserID, plansSubscriptionID); err != nil {
		return err
	}
	fmt.Printf("User %s is now premium\n", plansUserID)
	return nil
}

func runPlansDowngrade(cmd *cobra.Command, args []string) error {
	if err := requirePlansUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx := context.Background()
	if plansPreview {
		preview, err := a.Plans().CalculateProratedUsage(ctx, plansUserID)
		if err != nil {
			return err
		}
		printProration(preview.ProratedUsage, "Preview")
		if len(preview.Events) > 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nTIMESTAMP\tMODEL\tTOKENS\tCOST")
			for _, e := range preview.Events {
				fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\n",
					e.Timestamp.Format(time.RFC3339), e.Model,
					e.PromptTokens+e.CompletionTokens, e.CostUSD)
			}
			w.Flush()
		}
		return nil
	}

	prorated, err := a.Plans().Downgrade(ctx, plansUserID)
	if err != nil {
		return err
	}
	printProration(prorated, "Final bill")
	fmt.Printf("\nUser %s is now on the free plan\n", plansUserID)
	return nil
}

func printProration(p billing.ProratedUsage, label string) {
	fmt.Printf("%s for the window %s to %s\n", label,
		p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"))
	fmt.Printf("  Days used:  %d\n", p.DaysUsed)
	fmt.Printf("  API calls:  %d\n", p.EventCount)
	fmt.Printf("  Usage cost: %s\n", billing.FormatAmount(billing.CentsFromUSD(p.TotalCost)))
}

func runPlansHistory(cmd *cobra.Command, args []string) error {
	if err := requirePlansUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	events, err := a.Plans().PlanHistory(context.Background(), plansUserID, plansHistoryLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No plan changes found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tFROM\tTO\tFINAL BILL\tDAYS")
	for _, e := range events {
		finalBill := ""
		if e.Action == billing.ActionDowngrade {
			finalBill = billing.FormatAmount(e.FinalAmountCents)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			e.Timestamp.Format("2006-01-02 15:04"),
			e.Action, e.FromPlan, e.ToPlan, finalBill, e.DaysUsed)
	}
	w.Flush()
	return nil
}
