package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/bootstrap"
	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/pkg/tokencount"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect usage ledgers",
	Long: `Inspect and adjust per-user usage ledgers.

Examples:
  meterline usage summary --user=user_123
  meterline usage summary --user=user_123 --month=2025-02
  meterline usage check --user=user_123
  meterline usage reset-today --user=user_123`,
}

var usageSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a user's ledger for one month",
	RunE:  runUsageSummary,
}

var usageCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a user may make requests right now",
	RunE:  runUsageCheck,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset-today",
	Short: "Zero a user's counters for the current UTC day",
	RunE:  runUsageReset,
}

var usageEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate token count and cost for a piece of text",
	Long: `Estimate how many prompt tokens a piece of text will consume and
what it would cost at the configured rate for the model.

Reads text from --text, or from stdin when --text is omitted.`,
	RunE: runUsageEstimate,
}

var (
	usageUserID string
	usageMonth  string

	estimateModel string
	estimateText  string
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageSummaryCmd)
	usageCmd.AddCommand(usageCheckCmd)
	usageCmd.AddCommand(usageResetCmd)
	usageCmd.AddCommand(usageEstimateCmd)

	usageSummaryCmd.Flags().StringVar(&usageUserID, "user", "", "user ID (required)")
	usageSummaryCmd.Flags().StringVar(&usageMonth, "month", "", "month (YYYY-MM, default current)")
	usageCheckCmd.Flags().StringVar(&usageUserID, "user", "", "user ID (required)")
	usageResetCmd.Flags().StringVar(&usageUserID, "user", "", "user ID (required)")
	usageEstimateCmd.Flags().StringVar(&estimateModel, "model", "gpt-4o-mini", "model name")
	usageEstimateCmd.Flags().StringVar(&estimateText, "text", "", "text to estimate (default: read stdin)")
}

func requireUser() error {
	if usageUserID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func newCLIApp() (*bootstrap.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := bootstrap.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}

func runUsageSummary(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	month := usageMonth
	if month == "" {
		month = ledger.MonthKey(time.Now().UTC())
	}
	sum, err := a.Usage().GetUsageSummary(context.Background(), usageUserID, month)
	if err != nil {
		return fmt.Errorf("get usage: %w", err)
	}

	fmt.Printf("Usage for %s (%s, %s plan)\n\n", usageUserID, month, sum.Plan)
	fmt.Printf("Monthly tokens: %d\n", sum.Record.MonthlyTokens)
	fmt.Printf("Monthly voice:  %d\n", sum.Record.MonthlyRequests.Voice)
	fmt.Printf("Monthly chat:   %d\n", sum.Record.MonthlyRequests.Chat)
	fmt.Printf("Total cost:     $%.4f\n\n", sum.Record.TotalCostUSD)

	if len(sum.Record.DailyTokens) > 0 {
		days := make([]string, 0, len(sum.Record.DailyTokens))
		for day := range sum.Record.DailyTokens {
			days = append(days, day)
		}
		sort.Strings(days)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DAY\tTOKENS\tVOICE\tCHAT")
		for _, day := range days {
			counts := sum.Record.DailyRequests[day]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", day, sum.Record.DailyTokens[day], counts.Voice, counts.Chat)
		}
		w.Flush()
	}
	return nil
}

func runUsageCheck(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	res, err := a.Usage().CanUse(context.Background(), usageUserID)
	if err != nil {
		return fmt.Errorf("check usage: %w", err)
	}

	fmt.Printf("Chat allowed:  %v\n", res.AllowedChat)
	fmt.Printf("Voice allowed: %v\n", res.AllowedVoice)
	if res.Reason != "" {
		fmt.Printf("Reason:        %s\n", res.Reason)
	}
	fmt.Printf("Remaining:     %d daily / %d monthly tokens\n",
		res.Remaining.DailyTokens, res.Remaining.MonthlyTokens)
	return nil
}

func runUsageEstimate(cmd *cobra.Command, args []string) error {
	text := estimateText
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	if text == "" {
		return fmt.Errorf("no text to estimate")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table := cfg.PricingTable()

	tokens := tokencount.CountText(estimateModel, text)
	fmt.Printf("Model:  %s\n", estimateModel)
	fmt.Printf("Tokens: %d\n", tokens)

	if table.Has(estimateModel) {
		cost, err := table.Cost(estimateModel, tokens, 0, 0)
		if err != nil {
			return fmt.Errorf("estimate cost: %w", err)
		}
		fmt.Printf("Cost:   $%.4f (prompt only)\n", cost)
	} else {
		fmt.Printf("Cost:   model not in pricing table\n")
	}
	return nil
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := newCLIApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.Usage().ResetToday(context.Background(), usageUserID); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	fmt.Printf("Reset today's counters for %s\n", usageUserID)
	return nil
}
