package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meterline/meterline/ports"
)

// DummyProvider is a test/demo payment provider that simulates successful payments.
// Use this for development and demos when real payment credentials aren't available.
type DummyProvider struct {
	baseURL string
}

// NewDummyProvider creates a new dummy payment provider.
func NewDummyProvider(baseURL string) *DummyProvider {
	return &DummyProvider{baseURL: baseURL}
}

// Name returns the provider name.
func (p *DummyProvider) Name() string {
	return "dummy"
}

// CreateCustomer simulates creating a customer and returns a fake customer ID.
func (p *DummyProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	id := userID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("cus_dummy_%s", id), nil
}

// CreateRecurringCheckout simulates checkout by redirecting directly to
// the success URL. This allows testing the full upgrade flow without
// real payment.
func (p *DummyProvider) CreateRecurringCheckout(ctx context.Context, customerID, priceID, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	return ports.CheckoutIntent{
		URL:       successURL,
		SessionID: "cs_dummy_" + uuid.New().String(),
	}, nil
}

// CreateOneOffCheckout simulates a one-time payment session.
func (p *DummyProvider) CreateOneOffCheckout(ctx context.Context, customerID string, amountCents int64, description, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	return ports.CheckoutIntent{
		URL:       successURL,
		SessionID: "cs_dummy_" + uuid.New().String(),
	}, nil
}

// CancelSubscription simulates successful cancellation.
func (p *DummyProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	return nil
}

// CreateInvoice simulates invoice creation.
func (p *DummyProvider) CreateInvoice(ctx context.Context, customerID string, amountCents int64, description string) (string, error) {
	return "in_dummy_" + uuid.New().String(), nil
}

// PayInvoiceImmediately simulates a successful immediate charge.
func (p *DummyProvider) PayInvoiceImmediately(ctx context.Context, invoiceID string) error {
	return nil
}

var _ ports.PaymentProvider = (*DummyProvider)(nil)
