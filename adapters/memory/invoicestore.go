package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// InvoiceStore is an in-memory implementation of ports.InvoiceStore.
type InvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]billing.Invoice
}

// NewInvoiceStore creates an empty in-memory invoice store.
func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: make(map[string]billing.Invoice)}
}

// Create stores a new invoice.
func (s *InvoiceStore) Create(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; ok {
		return errors.New("memory: invoice already exists")
	}
	s.invoices[inv.ID] = inv
	return nil
}

// Get retrieves an invoice by ID.
func (s *InvoiceStore) Get(ctx context.Context, id string) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return billing.Invoice{}, ErrNotFound
	}
	return inv, nil
}

// GetByUserAndMonth retrieves a user's recurring invoice for a month.
func (s *InvoiceStore) GetByUserAndMonth(ctx context.Context, userID, month string) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.UserID == userID && inv.Month == month && month != "" {
			return inv, nil
		}
	}
	return billing.Invoice{}, ErrNotFound
}

// ListByUser returns invoices for a user, newest first.
func (s *InvoiceStore) ListByUser(ctx context.Context, userID string, limit int) ([]billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []billing.Invoice
	for _, inv := range s.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus updates invoice status and external references.
// Paid invoices are immutable except for their status field, which this
// method is the only way to touch.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id string, status billing.InvoiceStatus, stripeInvoiceID, paymentLinkURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	if stripeInvoiceID != "" {
		inv.StripeInvoiceID = stripeInvoiceID
	}
	if paymentLinkURL != "" {
		inv.PaymentLinkURL = paymentLinkURL
	}
	s.invoices[id] = inv
	return nil
}

// Ensure interface compliance.
var _ ports.InvoiceStore = (*InvoiceStore)(nil)
