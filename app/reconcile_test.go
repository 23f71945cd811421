package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterline/meterline/adapters/clock"
	"github.com/meterline/meterline/adapters/email"
	"github.com/meterline/meterline/adapters/idgen"
	"github.com/meterline/meterline/adapters/memory"
	"github.com/meterline/meterline/adapters/metrics"
	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

type reconcileFixture struct {
	svc      *ReconcilerService
	users    *memory.UserStore
	events   *memory.UsageEventStore
	invoices *memory.InvoiceStore
	payments *fakePayments
	email    *email.MockSender
	clock    *clock.Fake
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		users:    memory.NewUserStore(),
		events:   memory.NewUsageEventStore(),
		invoices: memory.NewInvoiceStore(),
		payments: &fakePayments{},
		email:    email.NewMockSender("https://app.test", "Meterline"),
		clock:    clock.NewFake(testStart),
	}
	f.svc = NewReconcilerService(ReconcilerDeps{
		Users:            f.users,
		Events:           f.events,
		Invoices:         f.invoices,
		Payments:         f.payments,
		Email:            f.email,
		Clock:            f.clock,
		IDGen:            idgen.NewSequential("inv-"),
		Logger:           zerolog.Nop(),
		Metrics:          testCollector(),
		PlatformFeeCents: 700,
		BaseURL:          "https://app.test",
		BatchSize:        2,
	})
	return f
}

func (f *reconcileFixture) createUser(t *testing.T, u ports.User) {
	t.Helper()
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (f *reconcileFixture) premiumUser(t *testing.T, id string, upgraded time.Time) ports.User {
	t.Helper()
	up := upgraded
	u := ports.User{
		ID:                    id,
		Email:                 id + "@example.com",
		Plan:                  limits.PlanPremium,
		BillingAnniversaryDay: up.Day(),
		SubscriptionStatus:    billing.SubscriptionActive,
		StripeCustomerID:      "cus_" + id,
		StripeSubscriptionID:  "sub_" + id,
		UpgradedAt:            &up,
		CurrentPeriodStart:    &up,
		LastFeePaymentAt:      &up,
	}
	f.createUser(t, u)
	return u
}

func TestPlatformFeeRequired(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	f.createUser(t, ports.User{ID: "free", Plan: limits.PlanFree})
	dec, err := f.svc.PlatformFeeRequired(ctx, "free")
	if err != nil {
		t.Fatalf("PlatformFeeRequired: %v", err)
	}
	if dec.Required || dec.Reason != billing.FeeReasonFreePlan {
		t.Errorf("free plan decision = %+v", dec)
	}

	// Premium, never paid: first fee is due regardless of the day.
	f.createUser(t, ports.User{
		ID: "fresh", Plan: limits.PlanPremium, BillingAnniversaryDay: 5,
	})
	dec, err = f.svc.PlatformFeeRequired(ctx, "fresh")
	if err != nil {
		t.Fatalf("PlatformFeeRequired: %v", err)
	}
	if !dec.Required || dec.Reason != billing.FeeReasonFirstPayment {
		t.Errorf("fresh premium decision = %+v", dec)
	}

	// Paid last month, today is the anniversary day: due again.
	lastMonth := testStart.AddDate(0, -1, 0)
	u := f.premiumUser(t, "due", lastMonth)
	if u.BillingAnniversaryDay != testStart.Day() {
		t.Fatalf("fixture anniversary = %d", u.BillingAnniversaryDay)
	}
	dec, err = f.svc.PlatformFeeRequired(ctx, "due")
	if err != nil {
		t.Fatalf("PlatformFeeRequired: %v", err)
	}
	if !dec.Required || dec.Reason != billing.FeeReasonAnniversary {
		t.Errorf("anniversary decision = %+v", dec)
	}

	if _, err := f.svc.PlatformFeeRequired(ctx, "ghost"); err != ErrUserNotFound {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestGenerateMonthlyInvoice(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	upgraded := testStart.AddDate(0, -1, -5) // 2025-02-05, anniversary day 5
	f.premiumUser(t, "u1", upgraded)

	// The March invoice covers the period from the February anniversary
	// through the March anniversary. ev-2 falls after March 5 and
	// belongs to the next cycle.
	month := "2025-03"
	for _, e := range []billing.UsageEvent{
		{ID: "ev-1", UserID: "u1", CostUSD: 1.25, Timestamp: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)},
		{ID: "ev-2", UserID: "u1", CostUSD: 0.50, Timestamp: time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)},
		{ID: "ev-3", UserID: "u1", CostUSD: 9.00, Timestamp: time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)},
	} {
		if err := f.events.Append(ctx, e); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	res, err := f.svc.GenerateMonthlyInvoice(ctx, "u1", month)
	if err != nil {
		t.Fatalf("GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeGenerated {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	inv := res.Invoice
	if inv.PlatformFeeCents != 700 {
		t.Errorf("PlatformFeeCents = %d", inv.PlatformFeeCents)
	}
	if inv.APIUsageCents != 1025 {
		t.Errorf("APIUsageCents = %d, want 1025", inv.APIUsageCents)
	}
	if inv.TotalCents != 1725 {
		t.Errorf("TotalCents = %d, want 1725", inv.TotalCents)
	}
	if !inv.PeriodStart.Equal(upgraded) {
		t.Errorf("PeriodStart = %v, want %v", inv.PeriodStart, upgraded)
	}
	if want := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC); !inv.PeriodEnd.Equal(want) {
		t.Errorf("PeriodEnd = %v, want %v", inv.PeriodEnd, want)
	}

	// The fee clock advances so this month is not charged again.
	u, err := f.users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.LastFeePaymentAt == nil || !u.LastFeePaymentAt.Equal(testStart) {
		t.Errorf("LastFeePaymentAt = %v, want %v", u.LastFeePaymentAt, testStart)
	}
	if inv.Status != billing.InvoiceStatusPendingPayment || inv.PaymentLinkURL == "" {
		t.Errorf("invoice = %+v, want pending with payment link", inv)
	}

	stored, err := f.invoices.GetByUserAndMonth(ctx, "u1", month)
	if err != nil {
		t.Fatalf("GetByUserAndMonth: %v", err)
	}
	if stored.Status != billing.InvoiceStatusPendingPayment {
		t.Errorf("stored status = %q", stored.Status)
	}

	sent := f.email.Emails()
	if len(sent) != 1 || sent[0].To != "u1@example.com" {
		t.Errorf("emails = %+v", sent)
	}

	// A second run for the same month must not invoice twice.
	res, err = f.svc.GenerateMonthlyInvoice(ctx, "u1", month)
	if err != nil {
		t.Fatalf("second GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeAlreadyInvoiced {
		t.Errorf("outcome = %q, want already_invoiced", res.Outcome)
	}
}

func TestGenerateMonthlyInvoiceBillsUpgradeMonthUsage(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	// Upgraded mid-February; the $5.25 of February usage must appear on
	// the first recurring invoice in March, since February itself is
	// never invoiced.
	upgraded := time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)
	f.premiumUser(t, "u1", upgraded)
	if err := f.events.Append(ctx, billing.UsageEvent{
		ID: "ev-1", UserID: "u1", CostUSD: 5.25,
		Timestamp: time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	res, err := f.svc.GenerateMonthlyInvoice(ctx, "u1", "2025-02")
	if err != nil {
		t.Fatalf("GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeFirstMonthSkipped {
		t.Fatalf("February outcome = %q, want first_month_skipped", res.Outcome)
	}

	f.clock.Set(time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC))
	res, err = f.svc.GenerateMonthlyInvoice(ctx, "u1", "2025-03")
	if err != nil {
		t.Fatalf("GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeGenerated {
		t.Fatalf("March outcome = %q", res.Outcome)
	}
	inv := res.Invoice
	if inv.APIUsageCents != 525 {
		t.Errorf("APIUsageCents = %d, want 525 from the upgrade month", inv.APIUsageCents)
	}
	if inv.TotalCents != 1225 {
		t.Errorf("TotalCents = %d, want 1225", inv.TotalCents)
	}
	if !inv.PeriodStart.Equal(upgraded) {
		t.Errorf("PeriodStart = %v, want the upgrade instant %v", inv.PeriodStart, upgraded)
	}
	if want := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC); !inv.PeriodEnd.Equal(want) {
		t.Errorf("PeriodEnd = %v, want %v", inv.PeriodEnd, want)
	}
}

func TestGenerateMonthlyInvoiceSkips(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	f.createUser(t, ports.User{ID: "free", Plan: limits.PlanFree})
	res, err := f.svc.GenerateMonthlyInvoice(ctx, "free", "2025-03")
	if err != nil {
		t.Fatalf("GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeFreePlan {
		t.Errorf("outcome = %q, want free_plan", res.Outcome)
	}

	// The upgrade month was already paid at checkout.
	f.premiumUser(t, "new", testStart.AddDate(0, 0, -3))
	res, err = f.svc.GenerateMonthlyInvoice(ctx, "new", "2025-03")
	if err != nil {
		t.Fatalf("GenerateMonthlyInvoice: %v", err)
	}
	if res.Outcome != OutcomeFirstMonthSkipped {
		t.Errorf("outcome = %q, want first_month_skipped", res.Outcome)
	}
	invs, _ := f.invoices.ListByUser(ctx, "new", 10)
	if len(invs) != 0 {
		t.Errorf("invoice count = %d, want 0", len(invs))
	}
}

func TestReconcileRun(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	// Four premium users force pagination past the batch size of 2.
	// a and b hit their anniversary today; c paid its first fee at
	// checkout yesterday; offday's anniversary is a different day.
	f.premiumUser(t, "a", testStart.AddDate(0, -2, 0))
	f.premiumUser(t, "b", testStart.AddDate(0, -1, 0))
	f.premiumUser(t, "c", testStart.AddDate(0, 0, -1))
	f.premiumUser(t, "offday", testStart.AddDate(0, -2, 15))
	f.createUser(t, ports.User{ID: "free", Plan: limits.PlanFree})

	if err := f.svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if _, err := f.invoices.GetByUserAndMonth(ctx, id, "2025-03"); err != nil {
			t.Errorf("user %s: no invoice generated: %v", id, err)
		}
	}
	for _, id := range []string{"c", "offday", "free"} {
		invs, _ := f.invoices.ListByUser(ctx, id, 10)
		if len(invs) != 0 {
			t.Errorf("user %s: invoice count = %d, want 0", id, len(invs))
		}
	}

	// Invoicing advanced the fee clock for the charged users.
	u, err := f.users.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.LastFeePaymentAt == nil || !u.LastFeePaymentAt.Equal(testStart) {
		t.Errorf("LastFeePaymentAt = %v, want %v", u.LastFeePaymentAt, testStart)
	}

	// Re-running is idempotent.
	if err := f.svc.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	invs, _ := f.invoices.ListByUser(ctx, "a", 10)
	if len(invs) != 1 {
		t.Errorf("invoice count after rerun = %d, want 1", len(invs))
	}
}
