// Package memory provides in-memory store implementations for tests
// and single-process development deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = fmt.Errorf("memory: %w", ports.ErrNotFound)

// UserStore is an in-memory implementation of ports.UserStore.
type UserStore struct {
	mu    sync.Mutex
	users map[string]ports.User
}

// NewUserStore creates an empty in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]ports.User)}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (ports.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ports.User{}, ErrNotFound
	}
	return u, nil
}

// Create stores a new user.
func (s *UserStore) Create(ctx context.Context, u ports.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return errors.New("memory: user already exists")
	}
	s.users[u.ID] = u
	return nil
}

// Update modifies an existing user.
func (s *UserStore) Update(ctx context.Context, u ports.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	s.users[u.ID] = u
	return nil
}

// UpdatePlan applies fn to the user under the store lock, serializing
// concurrent plan transitions.
func (s *UserStore) UpdatePlan(ctx context.Context, id string, fn func(ports.User) (ports.User, error)) (ports.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ports.User{}, ErrNotFound
	}

	updated, err := fn(u)
	if err != nil {
		return ports.User{}, err
	}
	updated.ID = id
	s.users[id] = updated
	return updated, nil
}

// ListByPlan returns users on a plan, ordered by ID for stable paging.
func (s *UserStore) ListByPlan(ctx context.Context, plan limits.Plan, limit, offset int) ([]ports.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []ports.User
	for _, u := range s.users {
		if u.Plan == plan {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
