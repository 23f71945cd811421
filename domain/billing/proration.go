package billing

import (
	"math"
	"time"
)

// ProrationStart picks the start of the proration window: the later of
// the subscription's current period start and the upgrade time. When
// neither is known, the first day of the current UTC calendar month.
// This is a PURE function.
func ProrationStart(currentPeriodStart, upgradedAt *time.Time, now time.Time) time.Time {
	var start time.Time
	if currentPeriodStart != nil {
		start = *currentPeriodStart
	}
	if upgradedAt != nil && upgradedAt.After(start) {
		start = *upgradedAt
	}
	if start.IsZero() {
		n := now.UTC()
		start = time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return start.UTC()
}

// DaysUsed returns the elapsed whole days in [start, now], rounding any
// partial day up. A window of zero or negative length counts as zero.
// This is a PURE function.
func DaysUsed(start, now time.Time) int {
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Hours() / 24))
}

// SumEventCosts totals the cost of usage events whose timestamps fall
// in the half-open window [start, end). Events outside are excluded.
// This is a PURE function.
func SumEventCosts(events []UsageEvent, start, end time.Time) float64 {
	var total float64
	for _, e := range events {
		ts := e.Timestamp
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		total += e.CostUSD
	}
	return total
}

// ProratedUsage describes the downgrade billing window.
type ProratedUsage struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	DaysUsed    int
	TotalCost   float64
	EventCount  int
}

// CalculateProration computes the prorated usage for a downgrade at
// time now, given the raw usage events of the billing window.
// This is a PURE function.
func CalculateProration(events []UsageEvent, currentPeriodStart, upgradedAt *time.Time, now time.Time) ProratedUsage {
	start := ProrationStart(currentPeriodStart, upgradedAt, now)
	end := now.UTC()

	var total float64
	var count int
	for _, e := range events {
		ts := e.Timestamp
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		total += e.CostUSD
		count++
	}

	return ProratedUsage{
		PeriodStart: start,
		PeriodEnd:   end,
		DaysUsed:    DaysUsed(start, end),
		TotalCost:   total,
		EventCount:  count,
	}
}
