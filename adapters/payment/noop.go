package payment

import (
	"context"
	"errors"

	"github.com/meterline/meterline/ports"
)

// ErrPaymentsDisabled is returned when payments are not configured.
var ErrPaymentsDisabled = errors.New("payments are not configured")

// NoopProvider is a no-op payment provider for when payments are disabled.
type NoopProvider struct{}

// NewNoopProvider creates a new no-op payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "none"
}

// CreateCustomer returns an error as payments are disabled.
func (p *NoopProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	return "", ErrPaymentsDisabled
}

// CreateRecurringCheckout returns an error as payments are disabled.
func (p *NoopProvider) CreateRecurringCheckout(ctx context.Context, customerID, priceID, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	return ports.CheckoutIntent{}, ErrPaymentsDisabled
}

// CreateOneOffCheckout returns an error as payments are disabled.
func (p *NoopProvider) CreateOneOffCheckout(ctx context.Context, customerID string, amountCents int64, description, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	return ports.CheckoutIntent{}, ErrPaymentsDisabled
}

// CancelSubscription returns an error as payments are disabled.
func (p *NoopProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	return ErrPaymentsDisabled
}

// CreateInvoice returns an error as payments are disabled.
func (p *NoopProvider) CreateInvoice(ctx context.Context, customerID string, amountCents int64, description string) (string, error) {
	return "", ErrPaymentsDisabled
}

// PayInvoiceImmediately returns an error as payments are disabled.
func (p *NoopProvider) PayInvoiceImmediately(ctx context.Context, invoiceID string) error {
	return ErrPaymentsDisabled
}

var _ ports.PaymentProvider = (*NoopProvider)(nil)
