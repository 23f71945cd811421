package email

import (
	"context"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// NoopSender is a no-op email sender for when email is disabled.
type NoopSender struct{}

// NewNoopSender creates a new no-op email sender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send does nothing.
func (s *NoopSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	return nil
}

// SendInvoice does nothing.
func (s *NoopSender) SendInvoice(ctx context.Context, to string, inv billing.Invoice) error {
	return nil
}

var _ ports.EmailSender = (*NoopSender)(nil)
