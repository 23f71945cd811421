package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/adapters/sqlite"
	"github.com/meterline/meterline/domain/billing"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List and inspect invoices",
	Long: `List and inspect invoices.

Examples:
  meterline invoices list --user=user_123
  meterline invoices show inv_abc`,
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's invoices, newest first",
	RunE:  runInvoicesList,
}

var invoicesShowCmd = &cobra.Command{
	Use:   "show <invoice-id>",
	Short: "Show one invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicesShow,
}

var (
	invoicesUserID string
	invoicesLimit  int
)

func init() {
	rootCmd.AddCommand(invoicesCmd)

	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesShowCmd)

	invoicesListCmd.Flags().StringVar(&invoicesUserID, "user", "", "user ID (required)")
	invoicesListCmd.Flags().IntVar(&invoicesLimit, "limit", 20, "number of invoices to show")
}

func openInvoiceStore() (*sqlite.InvoiceStore, *sqlite.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return sqlite.NewInvoiceStore(db), db, nil
}

func runInvoicesList(cmd *cobra.Command, args []string) error {
	if invoicesUserID == "" {
		return fmt.Errorf("--user is required")
	}
	store, db, err := openInvoiceStore()
	if err != nil {
		return err
	}
	defer db.Close()

	invoices, err := store.ListByUser(context.Background(), invoicesUserID, invoicesLimit)
	if err != nil {
		return fmt.Errorf("list invoices: %w", err)
	}
	if len(invoices) == 0 {
		fmt.Println("No invoices found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMONTH\tFEE\tUSAGE\tTOTAL\tSTATUS\tCREATED")
	for _, inv := range invoices {
		month := inv.Month
		if month == "" {
			month = "(final)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, month,
			billing.FormatAmount(inv.PlatformFeeCents),
			billing.FormatAmount(inv.APIUsageCents),
			billing.FormatAmount(inv.TotalCents),
			inv.Status,
			inv.CreatedAt.Format("2006-01-02"))
	}
	w.Flush()
	return nil
}

func runInvoicesShow(cmd *cobra.Command, args []string) error {
	store, db, err := openInvoiceStore()
	if err != nil {
		return err
	}
	defer db.Close()

	inv, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get invoice: %w", err)
	}

	fmt.Printf("Invoice %s\n", inv.ID)
	fmt.Printf("  User:         %s\n", inv.UserID)
	if inv.Month != "" {
		fmt.Printf("  Month:        %s\n", inv.Month)
	}
	fmt.Printf("  Period:       %s to %s\n",
		inv.PeriodStart.Format("2006-01-02"), inv.PeriodEnd.Format("2006-01-02"))
	fmt.Printf("  Platform fee: %s\n", billing.FormatAmount(inv.PlatformFeeCents))
	fmt.Printf("  API usage:    %s\n", billing.FormatAmount(inv.APIUsageCents))
	fmt.Printf("  Total:        %s\n", billing.FormatAmount(inv.TotalCents))
	fmt.Printf("  Status:       %s\n", inv.Status)
	if inv.DueDate != nil {
		fmt.Printf("  Due:          %s\n", inv.DueDate.Format("2006-01-02"))
	}
	if inv.StripeInvoiceID != "" {
		fmt.Printf("  Stripe ID:    %s\n", inv.StripeInvoiceID)
	}
	if inv.PaymentLinkURL != "" {
		fmt.Printf("  Payment link: %s\n", inv.PaymentLinkURL)
	}
	return nil
}
