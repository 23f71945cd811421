package memory

import (
	"context"
	"sync"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// PlanChangeStore is an in-memory implementation of ports.PlanChangeStore.
type PlanChangeStore struct {
	mu     sync.Mutex
	events map[string][]billing.PlanChangeEvent // by userID, append order
}

// NewPlanChangeStore creates an empty in-memory plan change store.
func NewPlanChangeStore() *PlanChangeStore {
	return &PlanChangeStore{events: make(map[string][]billing.PlanChangeEvent)}
}

// Append stores one plan change event.
func (s *PlanChangeStore) Append(ctx context.Context, e billing.PlanChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.UserID] = append(s.events[e.UserID], e)
	return nil
}

// ListByUser returns a user's plan changes, newest first.
func (s *PlanChangeStore) ListByUser(ctx context.Context, userID string, limit int) ([]billing.PlanChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[userID]
	out := make([]billing.PlanChangeEvent, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.PlanChangeStore = (*PlanChangeStore)(nil)
