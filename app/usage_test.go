package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/meterline/meterline/adapters/clock"
	"github.com/meterline/meterline/adapters/idgen"
	"github.com/meterline/meterline/adapters/memory"
	"github.com/meterline/meterline/adapters/metrics"
	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/domain/pricing"
	"github.com/meterline/meterline/ports"
)

var testStart = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// testCollector registers against a private registry so parallel test
// packages do not collide on the default one.
func testCollector() *metrics.Collector {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func testRegistry() limits.Registry {
	return limits.NewRegistry(
		limits.Limits{
			ChatTokensDaily:    1000,
			ChatTokensMonthly:  10000,
			VoiceRequestsDaily: 5,
			ChatRequestsDaily:  50,
		},
		limits.Limits{
			ChatTokensDaily:    100000,
			ChatTokensMonthly:  1000000,
			VoiceRequestsDaily: 200,
			ChatRequestsDaily:  2000,
		},
	)
}

func testPricing() pricing.Table {
	return pricing.NewTable(map[string]pricing.Rate{
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputPerMillion: 0.075},
	})
}

type usageFixture struct {
	svc    *UsageService
	users  *memory.UserStore
	events *memory.UsageEventStore
	clock  *clock.Fake
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	users := memory.NewUserStore()
	events := memory.NewUsageEventStore()
	fc := clock.NewFake(testStart)

	svc := NewUsageService(UsageDeps{
		Users:   users,
		Ledgers: memory.NewLedgerStore(),
		Events:  events,
		Pricing: testPricing(),
		Limits:  testRegistry(),
		Clock:   fc,
		IDGen:   idgen.NewSequential("ev-"),
		Logger:  zerolog.Nop(),
		Metrics: testCollector(),
	})

	if err := users.Create(context.Background(), ports.User{
		ID:    "u1",
		Email: "u1@example.com",
		Plan:  limits.PlanFree,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &usageFixture{svc: svc, users: users, events: events, clock: fc}
}

func tokenEvent(at time.Time, prompt, completion int64) ledger.TokenEvent {
	return ledger.TokenEvent{
		Model:            "gpt-4o-mini",
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Timestamp:        at,
	}
}

func TestRecordTokenUsage(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	out, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(testStart, 300, 100))
	if err != nil {
		t.Fatalf("RecordTokenUsage: %v", err)
	}
	if out.TokensAdded != 400 {
		t.Errorf("TokensAdded = %d, want 400", out.TokensAdded)
	}
	if out.NewDailyTotal != 400 || out.NewMonthlyTotal != 400 {
		t.Errorf("totals = %d/%d, want 400/400", out.NewDailyTotal, out.NewMonthlyTotal)
	}
	if out.CostAdded <= 0 {
		t.Errorf("CostAdded = %v, want > 0", out.CostAdded)
	}

	events, err := f.events.ListWindow(ctx, "u1", testStart.Add(-time.Hour), testStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListWindow: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	if events[0].Model != "gpt-4o-mini" || events[0].PromptTokens != 300 {
		t.Errorf("event = %+v", events[0])
	}
}

func TestRecordTokenUsageDailyCap(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(testStart, 600, 300)); err != nil {
		t.Fatalf("first event: %v", err)
	}

	f.clock.Advance(time.Minute)
	_, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(testStart.Add(time.Minute), 150, 0))
	code, ok := ledger.IsRejection(err)
	if !ok || code != ledger.CodeDailyLimitExceeded {
		t.Fatalf("err = %v, want daily rejection", err)
	}

	// The rejected event must leave the ledger and the event log alone.
	sum, err := f.svc.GetUsageSummary(ctx, "u1", ledger.MonthKey(testStart))
	if err != nil {
		t.Fatalf("GetUsageSummary: %v", err)
	}
	if sum.Record.MonthlyTokens != 900 {
		t.Errorf("MonthlyTokens = %d, want 900", sum.Record.MonthlyTokens)
	}
	events, _ := f.events.ListWindow(ctx, "u1", testStart.Add(-time.Hour), testStart.Add(time.Hour))
	if len(events) != 1 {
		t.Errorf("event count = %d, want 1", len(events))
	}

	if _, err := f.svc.GetUsageSummary(ctx, "u1", "March 2025"); err == nil {
		t.Error("expected an error for a malformed month key")
	}
}

func TestRecordTokenUsageOutOfOrder(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	at := testStart
	if _, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(at, 10, 10)); err != nil {
		t.Fatalf("first event: %v", err)
	}

	_, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(at.Add(-time.Second), 10, 10))
	code, ok := ledger.IsRejection(err)
	if !ok || code != ledger.CodeOutOfOrderReport {
		t.Fatalf("err = %v, want out-of-order rejection", err)
	}
}

func TestRecordRequestVoiceCap(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.RecordRequest(ctx, "u1", ledger.RequestVoice, 1); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := f.svc.RecordRequest(ctx, "u1", ledger.RequestVoice, 1)
	if _, ok := ledger.IsRejection(err); !ok {
		t.Fatalf("err = %v, want rejection", err)
	}

	// Chat requests remain unaffected by the voice cap.
	if _, err := f.svc.RecordRequest(ctx, "u1", ledger.RequestChat, 1); err != nil {
		t.Fatalf("chat request: %v", err)
	}
}

func TestCanUse(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	res, err := f.svc.CanUse(ctx, "u1")
	if err != nil {
		t.Fatalf("CanUse: %v", err)
	}
	if !res.AllowedChat || !res.AllowedVoice {
		t.Errorf("fresh user blocked: %+v", res)
	}
	if res.Remaining.DailyTokens != 1000 {
		t.Errorf("DailyTokens = %d, want 1000", res.Remaining.DailyTokens)
	}

	// Exhaust the daily token cap: both chat and voice must block.
	if _, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(testStart, 1000, 0)); err != nil {
		t.Fatalf("RecordTokenUsage: %v", err)
	}
	res, err = f.svc.CanUse(ctx, "u1")
	if err != nil {
		t.Fatalf("CanUse: %v", err)
	}
	if res.AllowedChat || res.AllowedVoice {
		t.Errorf("exhausted user allowed: %+v", res)
	}
	if res.Reason != ledger.CodeDailyLimitExceeded {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestCanUseVoiceCapOnly(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.RecordRequest(ctx, "u1", ledger.RequestVoice, 1); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	res, err := f.svc.CanUse(ctx, "u1")
	if err != nil {
		t.Fatalf("CanUse: %v", err)
	}
	if res.AllowedVoice {
		t.Error("voice allowed with cap exhausted")
	}
	if !res.AllowedChat {
		t.Error("chat blocked by voice cap")
	}
}

func TestResetToday(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RecordTokenUsage(ctx, "u1", tokenEvent(testStart, 500, 0)); err != nil {
		t.Fatalf("RecordTokenUsage: %v", err)
	}
	if err := f.svc.ResetToday(ctx, "u1"); err != nil {
		t.Fatalf("ResetToday: %v", err)
	}

	sum, err := f.svc.GetUsageSummary(ctx, "u1", ledger.MonthKey(testStart))
	if err != nil {
		t.Fatalf("GetUsageSummary: %v", err)
	}
	if sum.Record.DailyTokens[ledger.DayKey(testStart)] != 0 {
		t.Error("daily bucket not cleared")
	}
	if sum.Record.MonthlyTokens != 0 {
		t.Errorf("MonthlyTokens = %d, want 0 (monthly tracks the daily sums)", sum.Record.MonthlyTokens)
	}
	if sum.Remaining.DailyTokens != 1000 {
		t.Errorf("DailyTokens = %d, want 1000", sum.Remaining.DailyTokens)
	}
}

func TestGetUserLimitsSnapshotWins(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	snap := limits.Limits{ChatTokensDaily: 42}
	if err := f.users.Create(ctx, ports.User{ID: "u2", Plan: limits.PlanFree, Limits: &snap}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	lim, err := f.svc.GetUserLimits(ctx, "u2")
	if err != nil {
		t.Fatalf("GetUserLimits: %v", err)
	}
	if lim.Limits.ChatTokensDaily != 42 {
		t.Errorf("ChatTokensDaily = %d, want snapshot 42", lim.Limits.ChatTokensDaily)
	}
	if lim.Plan != limits.PlanFree {
		t.Errorf("Plan = %q, want free", lim.Plan)
	}

	if _, err := f.svc.GetUserLimits(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}
