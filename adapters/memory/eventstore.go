package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// UsageEventStore is an in-memory implementation of ports.UsageEventStore.
type UsageEventStore struct {
	mu     sync.Mutex
	events map[string][]billing.UsageEvent // by userID, append order
}

// NewUsageEventStore creates an empty in-memory event store.
func NewUsageEventStore() *UsageEventStore {
	return &UsageEventStore{events: make(map[string][]billing.UsageEvent)}
}

// Append stores one usage event.
func (s *UsageEventStore) Append(ctx context.Context, e billing.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.UserID] = append(s.events[e.UserID], e)
	return nil
}

// ListWindow returns events in [start, end), oldest first.
func (s *UsageEventStore) ListWindow(ctx context.Context, userID string, start, end time.Time) ([]billing.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []billing.UsageEvent
	for _, e := range s.events[userID] {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SumCosts totals event costs in [start, end).
func (s *UsageEventStore) SumCosts(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	events, err := s.ListWindow(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	return billing.SumEventCosts(events, start, end), nil
}

// Ensure interface compliance.
var _ ports.UsageEventStore = (*UsageEventStore)(nil)
