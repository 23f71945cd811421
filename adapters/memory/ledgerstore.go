package memory

import (
	"context"
	"sync"

	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore.
// A single mutex serializes mutations, which gives the per-key
// atomicity the port requires (coarser than needed, fine for tests).
type LedgerStore struct {
	mu      sync.Mutex
	records map[string]ledger.Record // key: userID + "_" + month
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{records: make(map[string]ledger.Record)}
}

func ledgerKey(userID, month string) string {
	return userID + "_" + month
}

// Get returns the record for a user and month, or a zero-valued record.
func (s *LedgerStore) Get(ctx context.Context, userID, month string) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ledgerKey(userID, month)]
	if !ok {
		return ledger.NewRecord(userID, month), nil
	}
	return rec.Clone(), nil
}

// Mutate applies fn under the store lock and persists the result.
// Nothing is written when fn errors.
func (s *LedgerStore) Mutate(ctx context.Context, userID, month string, fn func(ledger.Record) (ledger.Record, error)) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(userID, month)
	rec, ok := s.records[key]
	if !ok {
		rec = ledger.NewRecord(userID, month)
	}

	updated, err := fn(rec.Clone())
	if err != nil {
		return ledger.Record{}, err
	}

	s.records[key] = updated
	return updated.Clone(), nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
