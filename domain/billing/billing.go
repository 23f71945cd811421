// Package billing provides invoice, plan-change and platform-fee value
// types and pure functions. Amounts are integer cents; usage costs
// cross the pricing boundary as USD floats and are converted here.
package billing

import (
	"math"
	"time"

	"github.com/meterline/meterline/domain/limits"
)

// SubscriptionStatus mirrors the payment processor's subscription state.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// InvoiceStatus represents the state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft          InvoiceStatus = "draft"
	InvoiceStatusPendingPayment InvoiceStatus = "pending_payment"
	InvoiceStatusPaid           InvoiceStatus = "paid"
)

// Invoice represents a billing invoice (value type). Once paid it is
// immutable except for status.
type Invoice struct {
	ID               string
	UserID           string
	Month            string // "YYYY-MM", empty for ad-hoc proration invoices
	PeriodStart      time.Time
	PeriodEnd        time.Time
	PlatformFeeCents int64
	APIUsageCents    int64
	TotalCents       int64
	Status           InvoiceStatus
	DueDate          *time.Time
	StripeInvoiceID  string
	PaymentLinkURL   string
	CreatedAt        time.Time
}

// PlanChangeAction identifies the direction of a plan transition.
type PlanChangeAction string

const (
	ActionUpgrade   PlanChangeAction = "upgrade"
	ActionDowngrade PlanChangeAction = "downgrade"
)

// PlanChangeEvent is an append-only audit entry. Immutable once written.
type PlanChangeEvent struct {
	ID               string
	UserID           string
	Action           PlanChangeAction
	FromPlan         limits.Plan
	ToPlan           limits.Plan
	Timestamp        time.Time
	NewLimits        limits.Limits
	FinalInvoiceID   string // downgrades only
	FinalAmountCents int64  // downgrades only
	DaysUsed         int    // downgrades only
}

// UsageEvent is one raw per-call cost entry, kept separately from the
// monthly ledger so proration can target arbitrary sub-month windows.
type UsageEvent struct {
	ID               string
	UserID           string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Timestamp        time.Time
}

// CentsFromUSD converts a USD amount to integer cents, rounding half up.
// This is a PURE function.
func CentsFromUSD(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Floor(usd*100 + 0.5))
}

// NewMonthlyInvoice assembles a recurring invoice for one calendar
// month: platform fee plus that month's API usage cost.
// This is a PURE function.
func NewMonthlyInvoice(userID, month string, periodStart, periodEnd time.Time, platformFeeCents int64, usageUSD float64, now time.Time) Invoice {
	usageCents := CentsFromUSD(usageUSD)
	due := now.AddDate(0, 0, 7)
	return Invoice{
		UserID:           userID,
		Month:            month,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		PlatformFeeCents: platformFeeCents,
		APIUsageCents:    usageCents,
		TotalCents:       platformFeeCents + usageCents,
		Status:           InvoiceStatusDraft,
		DueDate:          &due,
		CreatedAt:        now,
	}
}

// NewProrationInvoice assembles the final invoice for a downgrade:
// usage cost only, never a platform fee (the fee is not refunded or
// prorated).
// This is a PURE function.
func NewProrationInvoice(userID string, periodStart, periodEnd time.Time, usageUSD float64, now time.Time) Invoice {
	usageCents := CentsFromUSD(usageUSD)
	return Invoice{
		UserID:        userID,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		APIUsageCents: usageCents,
		TotalCents:    usageCents,
		Status:        InvoiceStatusDraft,
		CreatedAt:     now,
	}
}

// MonthBounds returns the UTC start and end of a "YYYY-MM" month key.
// End is exclusive (the first instant of the next month).
// This is a PURE function.
func MonthBounds(month string) (start, end time.Time, err error) {
	start, err = time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

// FormatAmount formats cents as a dollars string.
// This is a PURE function.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	dollars := cents / 100
	remainder := cents % 100
	return sign + "$" + itoa(dollars) + "." + padZero(remainder)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func padZero(n int64) string {
	if n < 10 {
		return "0" + itoa(n)
	}
	return itoa(n)
}
