package billing

import (
	"testing"
	"time"

	"github.com/meterline/meterline/domain/limits"
)

func TestPlatformFeeRequired_FreePlan(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	paid := now.AddDate(0, -1, 0)

	d := PlatformFeeRequired(limits.PlanFree, 15, &paid, now)
	if d.Required {
		t.Error("free plan must never owe the platform fee")
	}
	if d.Reason != FeeReasonFreePlan {
		t.Errorf("Reason = %q, want %q", d.Reason, FeeReasonFreePlan)
	}
}

func TestPlatformFeeRequired_FirstPayment(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	// No prior payment: required regardless of the day.
	d := PlatformFeeRequired(limits.PlanPremium, 15, nil, now)
	if !d.Required {
		t.Error("first-time premium fee must be required")
	}
	if d.Reason != FeeReasonFirstPayment {
		t.Errorf("Reason = %q, want %q", d.Reason, FeeReasonFirstPayment)
	}
}

func TestPlatformFeeRequired_AnniversaryDue(t *testing.T) {
	paid := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	d := PlatformFeeRequired(limits.PlanPremium, 15, &paid, now)
	if !d.Required {
		t.Error("fee due on anniversary day of a new month")
	}
	if d.Reason != FeeReasonAnniversary {
		t.Errorf("Reason = %q, want %q", d.Reason, FeeReasonAnniversary)
	}
}

func TestPlatformFeeRequired_AlreadyPaidThisMonth(t *testing.T) {
	paid := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC)

	d := PlatformFeeRequired(limits.PlanPremium, 15, &paid, now)
	if d.Required {
		t.Error("at most one charge per calendar month")
	}
	if d.Reason != FeeReasonAlreadyPaid {
		t.Errorf("Reason = %q, want %q", d.Reason, FeeReasonAlreadyPaid)
	}
	if d.NextBillingDate == nil {
		t.Fatal("expected a next billing date")
	}
	want := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	if !d.NextBillingDate.Equal(want) {
		t.Errorf("NextBillingDate = %v, want %v", d.NextBillingDate, want)
	}
}

func TestPlatformFeeRequired_NotAnniversaryDay(t *testing.T) {
	// Last paid in February, today is March 16 but anniversary is the
	// 15th: the missed day is not caught up.
	paid := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)

	d := PlatformFeeRequired(limits.PlanPremium, 15, &paid, now)
	if d.Required {
		t.Error("fee only charged on the anniversary day itself")
	}
	if d.Reason != FeeReasonNotAnniversary {
		t.Errorf("Reason = %q, want %q", d.Reason, FeeReasonNotAnniversary)
	}
	want := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	if d.NextBillingDate == nil || !d.NextBillingDate.Equal(want) {
		t.Errorf("NextBillingDate = %v, want %v", d.NextBillingDate, want)
	}
}

func TestNextAnniversary(t *testing.T) {
	tests := []struct {
		after time.Time
		day   int
		want  time.Time
	}{
		{
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 15,
			time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), 15,
			time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			// Day 31 skips 30-day April and lands in May.
			time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), 31,
			time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			// Day 29 across a non-leap February.
			time.Date(2027, 1, 30, 0, 0, 0, 0, time.UTC), 29,
			time.Date(2027, 3, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			// Out-of-range days are clamped.
			time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), 0,
			time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		if got := NextAnniversary(tt.after, tt.day); !got.Equal(tt.want) {
			t.Errorf("NextAnniversary(%v, %d) = %v, want %v", tt.after, tt.day, got, tt.want)
		}
	}
}

func TestBillingPeriod(t *testing.T) {
	upgraded := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	// Steady state: previous anniversary through this month's.
	start, end, err := BillingPeriod("2026-03", 15, &upgraded)
	if err != nil {
		t.Fatalf("BillingPeriod: %v", err)
	}
	if want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}

	// First recurring invoice: the window opens at the upgrade instant.
	start, end, err = BillingPeriod("2026-02", 15, &upgraded)
	if err != nil {
		t.Fatalf("BillingPeriod: %v", err)
	}
	if !start.Equal(upgraded) {
		t.Errorf("start = %v, want upgrade instant %v", start, upgraded)
	}
	if want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestBillingPeriod_ClampsShortMonths(t *testing.T) {
	start, end, err := BillingPeriod("2026-02", 31, nil)
	if err != nil {
		t.Fatalf("BillingPeriod: %v", err)
	}
	if want := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestBillingPeriod_InvalidInputs(t *testing.T) {
	if _, _, err := BillingPeriod("not-a-month", 15, nil); err == nil {
		t.Error("expected an error for a malformed month key")
	}

	// A window that would start after its end collapses to zero width.
	late := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	start, end, err := BillingPeriod("2026-03", 15, &late)
	if err != nil {
		t.Fatalf("BillingPeriod: %v", err)
	}
	if !start.Equal(end) {
		t.Errorf("start = %v, end = %v, want a collapsed window", start, end)
	}
}
