package billing

import (
	"time"

	"github.com/meterline/meterline/domain/limits"
)

// Fee decision reasons.
const (
	FeeReasonFreePlan       = "free_plan"
	FeeReasonFirstPayment   = "first_payment_due"
	FeeReasonAnniversary    = "anniversary_due"
	FeeReasonAlreadyPaid    = "already_paid_this_month"
	FeeReasonNotAnniversary = "not_anniversary_day"
)

// FeeDecision is the outcome of the platform-fee liability check.
type FeeDecision struct {
	Required        bool
	Reason          string
	NextBillingDate *time.Time
}

// PlatformFeeRequired decides whether the recurring platform fee is due
// for a user right now. lastFeePaymentAt is nil when the user has never
// paid the fee.
//
// A fee is charged at most once per calendar month, and only when the
// check runs on the user's billing anniversary day. A missed
// anniversary is not caught up; the next charge waits for the next
// month's anniversary.
// This is a PURE function.
func PlatformFeeRequired(plan limits.Plan, anniversaryDay int, lastFeePaymentAt *time.Time, now time.Time) FeeDecision {
	if plan != limits.PlanPremium {
		return FeeDecision{Required: false, Reason: FeeReasonFreePlan}
	}
	if lastFeePaymentAt == nil {
		return FeeDecision{Required: true, Reason: FeeReasonFirstPayment}
	}

	n := now.UTC()
	last := lastFeePaymentAt.UTC()
	paidThisMonth := last.Year() == n.Year() && last.Month() == n.Month()

	if paidThisMonth {
		next := NextAnniversary(n, anniversaryDay)
		return FeeDecision{Required: false, Reason: FeeReasonAlreadyPaid, NextBillingDate: &next}
	}
	if n.Day() != anniversaryDay {
		next := NextAnniversary(n, anniversaryDay)
		return FeeDecision{Required: false, Reason: FeeReasonNotAnniversary, NextBillingDate: &next}
	}
	return FeeDecision{Required: true, Reason: FeeReasonAnniversary}
}

// NextAnniversary returns the first UTC date strictly after `after`
// whose day-of-month equals day. Months too short to contain the day
// are skipped (a day-31 anniversary recurs only in 31-day months, which
// matches the strict-equality charge rule).
// This is a PURE function.
func NextAnniversary(after time.Time, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if day > 31 {
		day = 31
	}
	a := after.UTC()
	year, month := a.Year(), a.Month()
	for i := 0; i < 24; i++ {
		if day <= daysInMonth(year, month) {
			candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			if candidate.After(a) {
				return candidate
			}
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	// Unreachable for valid days; day 1 always exists.
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// BillingPeriod returns the completed billing period that the invoice
// for a "YYYY-MM" month covers: from the previous month's anniversary
// through this month's anniversary (exclusive). On the first recurring
// invoice the window starts at upgradedAt instead, so usage from the
// upgrade month is billed rather than lost. The day is clamped for
// months too short to contain it.
// This is a PURE function.
func BillingPeriod(month string, anniversaryDay int, upgradedAt *time.Time) (start, end time.Time, err error) {
	monthStart, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	monthStart = monthStart.UTC()

	day := anniversaryDay
	if day < 1 {
		day = 1
	}
	if day > 31 {
		day = 31
	}

	end = anniversaryIn(monthStart.Year(), monthStart.Month(), day)
	prev := monthStart.AddDate(0, -1, 0)
	start = anniversaryIn(prev.Year(), prev.Month(), day)

	if upgradedAt != nil && upgradedAt.After(start) {
		start = upgradedAt.UTC()
	}
	if start.After(end) {
		start = end
	}
	return start, end, nil
}

func anniversaryIn(year int, month time.Month, day int) time.Time {
	if dim := daysInMonth(year, month); day > dim {
		day = dim
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
