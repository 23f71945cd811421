package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

func TestUserStore_CRUD(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	u := ports.User{ID: "user-1", Email: "a@example.com", Plan: limits.PlanFree}
	if err := s.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, u); err == nil {
		t.Error("duplicate Create should fail")
	}

	u.Email = "b@example.com"
	if err := s.Update(ctx, u); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != "b@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
}

func TestUserStore_UpdatePlan(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	if err := s.Create(ctx, ports.User{ID: "user-1", Plan: limits.PlanFree}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := s.UpdatePlan(ctx, "user-1", func(u ports.User) (ports.User, error) {
		u.Plan = limits.PlanPremium
		return u, nil
	})
	if err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	if updated.Plan != limits.PlanPremium {
		t.Errorf("Plan = %v, want premium", updated.Plan)
	}
}

func TestUserStore_ListByPlan(t *testing.T) {
	s := NewUserStore()
	ctx := context.Background()

	for _, u := range []ports.User{
		{ID: "c", Plan: limits.PlanPremium},
		{ID: "a", Plan: limits.PlanPremium},
		{ID: "b", Plan: limits.PlanFree},
	} {
		if err := s.Create(ctx, u); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	got, err := s.ListByPlan(ctx, limits.PlanPremium, 10, 0)
	if err != nil {
		t.Fatalf("ListByPlan failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("unexpected result: %+v", got)
	}

	page, err := s.ListByPlan(ctx, limits.PlanPremium, 1, 1)
	if err != nil {
		t.Fatalf("ListByPlan page failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "c" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestLedgerStore_GetReturnsZeroRecord(t *testing.T) {
	s := NewLedgerStore()
	rec, err := s.Get(context.Background(), "user-1", "2026-03")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.UserID != "user-1" || rec.Month != "2026-03" || rec.MonthlyTokens != 0 {
		t.Errorf("unexpected zero record: %+v", rec)
	}
}

func TestLedgerStore_MutateErrorWritesNothing(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	_, err := s.Mutate(ctx, "user-1", "2026-03", func(rec ledger.Record) (ledger.Record, error) {
		rec.MonthlyTokens = 100
		return rec, nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	_, err = s.Mutate(ctx, "user-1", "2026-03", func(rec ledger.Record) (ledger.Record, error) {
		rec.MonthlyTokens = 999
		return rec, context.Canceled
	})
	if err != context.Canceled {
		t.Fatalf("expected fn error, got %v", err)
	}

	rec, _ := s.Get(ctx, "user-1", "2026-03")
	if rec.MonthlyTokens != 100 {
		t.Errorf("failed mutation leaked: MonthlyTokens = %d", rec.MonthlyTokens)
	}
}

func TestLedgerStore_ConcurrentMutations(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	lim := limits.Limits{ChatRequestsDaily: 100}
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	// 200 goroutines racing to add 1 request each under a 100-request
	// cap: exactly 100 must pass the check-then-act sequence.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, "user-1", "2026-03", func(rec ledger.Record) (ledger.Record, error) {
				next, _, err := ledger.ApplyRequests(rec, ledger.RequestChat, 1, lim, now)
				if err != nil {
					return rec, err
				}
				return next, nil
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 100 {
		t.Errorf("succeeded = %d, want exactly 100", succeeded)
	}
	rec, _ := s.Get(ctx, "user-1", "2026-03")
	if rec.MonthlyRequests.Chat != 100 {
		t.Errorf("MonthlyRequests.Chat = %d, want 100 (cap never overshot)", rec.MonthlyRequests.Chat)
	}
	if !rec.Consistent() {
		t.Error("record inconsistent after concurrent mutations")
	}
}

func TestUsageEventStore_WindowQueries(t *testing.T) {
	s := NewUsageEventStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	for i, cost := range []float64{1.0, 2.0, 3.0} {
		err := s.Append(ctx, billing.UsageEvent{
			ID:        "e" + string(rune('1'+i)),
			UserID:    "user-1",
			CostUSD:   cost,
			Timestamp: base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// [day15, day17) excludes the day-17 event.
	got, err := s.ListWindow(ctx, "user-1", base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("ListWindow failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Error("events not oldest-first")
	}

	sum, err := s.SumCosts(ctx, "user-1", base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("SumCosts failed: %v", err)
	}
	if sum != 3.0 {
		t.Errorf("SumCosts = %v, want 3.0", sum)
	}
}

func TestInvoiceStore(t *testing.T) {
	s := NewInvoiceStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	inv := billing.Invoice{ID: "inv-1", UserID: "user-1", Month: "2026-01", TotalCents: 700, Status: billing.InvoiceStatusDraft, CreatedAt: now}
	if err := s.Create(ctx, inv); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, inv); err == nil {
		t.Error("duplicate Create should fail")
	}

	byMonth, err := s.GetByUserAndMonth(ctx, "user-1", "2026-01")
	if err != nil {
		t.Fatalf("GetByUserAndMonth failed: %v", err)
	}
	if byMonth.ID != "inv-1" {
		t.Errorf("ID = %q", byMonth.ID)
	}

	if err := s.UpdateStatus(ctx, "inv-1", billing.InvoiceStatusPaid, "in_stripe", ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ := s.Get(ctx, "inv-1")
	if got.Status != billing.InvoiceStatusPaid || got.StripeInvoiceID != "in_stripe" {
		t.Errorf("unexpected invoice: %+v", got)
	}

	list, err := s.ListByUser(ctx, "user-1", 10)
	if err != nil || len(list) != 1 {
		t.Errorf("ListByUser = %v, %v", list, err)
	}
}

func TestPlanChangeStore_AppendOnly(t *testing.T) {
	s := NewPlanChangeStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, billing.PlanChangeEvent{
			ID:        "pc-" + string(rune('1'+i)),
			UserID:    "user-1",
			Timestamp: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "pc-3" || got[1].ID != "pc-2" {
		t.Errorf("not newest-first: %v, %v", got[0].ID, got[1].ID)
	}
}
