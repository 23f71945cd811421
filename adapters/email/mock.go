package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// MockSender is a mock email sender for testing.
// It stores sent emails in memory instead of actually sending them.
type MockSender struct {
	mu     sync.Mutex
	emails []SentEmail

	// Config for generating links
	BaseURL string
	AppName string

	// Optional: fail if set
	ShouldFail bool
	FailError  error
}

// SentEmail represents an email that was "sent" (stored in memory).
type SentEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Type     string // "invoice", "custom"
	Invoice  billing.Invoice
}

// NewMockSender creates a new mock email sender.
func NewMockSender(baseURL, appName string) *MockSender {
	return &MockSender{
		BaseURL: baseURL,
		AppName: appName,
	}
}

// Send stores the email in memory.
func (m *MockSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return err
	}

	m.emails = append(m.emails, SentEmail{
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
		Type:     "custom",
	})
	return nil
}

// SendInvoice stores an invoice email in memory.
func (m *MockSender) SendInvoice(ctx context.Context, to string, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return err
	}

	m.emails = append(m.emails, SentEmail{
		To:      to,
		Subject: fmt.Sprintf("Your %s invoice for %s", m.AppName, inv.Month),
		Type:    "invoice",
		Invoice: inv,
	})
	return nil
}

// Emails returns a copy of all sent emails.
func (m *MockSender) Emails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.emails))
	copy(out, m.emails)
	return out
}

// Reset clears all stored emails.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = nil
}

func (m *MockSender) failure() error {
	if !m.ShouldFail {
		return nil
	}
	if m.FailError != nil {
		return m.FailError
	}
	return fmt.Errorf("mock email send failure")
}

var _ ports.EmailSender = (*MockSender)(nil)
