// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/domain/limits"
)

// ErrNotFound is the shared sentinel for missing records. Store
// implementations wrap it so callers can test with errors.Is without
// importing a concrete adapter.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// User represents a user account. Plan and billing fields are owned by
// the plan lifecycle; identity fields belong to the auth collaborator.
type User struct {
	ID                     string
	Email                  string
	Plan                   limits.Plan
	Limits                 *limits.Limits // snapshot; nil = derive from registry by plan
	BillingAnniversaryDay  int            // 1-31, zero until first successful payment
	SubscriptionStatus     billing.SubscriptionStatus
	StripeCustomerID       string
	StripeSubscriptionID   string
	PreviousPlan           limits.Plan
	PreviousSubscriptionID string
	UpgradedAt             *time.Time
	CurrentPeriodStart     *time.Time
	LastFeePaymentAt       *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// EffectiveLimits resolves the user's limits: the stored snapshot when
// present, otherwise the registry tier for the user's plan.
func (u User) EffectiveLimits(reg limits.Registry) limits.Limits {
	if u.Limits != nil {
		return *u.Limits
	}
	return reg.ForPlan(u.Plan)
}

// UserStore persists user accounts.
type UserStore interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (User, error)

	// Create stores a new user.
	Create(ctx context.Context, u User) error

	// Update modifies an existing user.
	Update(ctx context.Context, u User) error

	// UpdatePlan applies fn to the user inside a transaction and
	// persists the result. Serializes concurrent plan transitions.
	UpdatePlan(ctx context.Context, id string, fn func(User) (User, error)) (User, error)

	// ListByPlan returns users on a plan, paginated.
	ListByPlan(ctx context.Context, plan limits.Plan, limit, offset int) ([]User, error)
}

// LedgerStore persists the per-user-per-month usage records.
// Mutations run through Mutate so the read-check-increment sequence is
// atomic per (userID, month) key.
type LedgerStore interface {
	// Get returns the record for a user and month, or a zero-valued
	// record when none exists yet.
	Get(ctx context.Context, userID, month string) (ledger.Record, error)

	// Mutate loads the record, applies fn, and persists the result,
	// all inside one transaction keyed by (userID, month). When fn
	// returns an error nothing is written and the error is returned.
	Mutate(ctx context.Context, userID, month string, fn func(ledger.Record) (ledger.Record, error)) (ledger.Record, error)
}

// UsageEventStore persists the raw per-call cost log used for
// arbitrary-window proration. Append-only.
type UsageEventStore interface {
	// Append stores one usage event.
	Append(ctx context.Context, e billing.UsageEvent) error

	// ListWindow returns events for a user in [start, end), oldest first.
	ListWindow(ctx context.Context, userID string, start, end time.Time) ([]billing.UsageEvent, error)

	// SumCosts totals event costs for a user in [start, end).
	SumCosts(ctx context.Context, userID string, start, end time.Time) (float64, error)
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	// Create stores a new invoice.
	Create(ctx context.Context, inv billing.Invoice) error

	// Get retrieves an invoice by ID.
	Get(ctx context.Context, id string) (billing.Invoice, error)

	// GetByUserAndMonth retrieves a user's recurring invoice for a month.
	GetByUserAndMonth(ctx context.Context, userID, month string) (billing.Invoice, error)

	// ListByUser returns invoices for a user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]billing.Invoice, error)

	// UpdateStatus updates invoice status and external references.
	UpdateStatus(ctx context.Context, id string, status billing.InvoiceStatus, stripeInvoiceID, paymentLinkURL string) error
}

// PlanChangeStore persists the append-only plan change log.
type PlanChangeStore interface {
	// Append stores one plan change event. Events are never updated.
	Append(ctx context.Context, e billing.PlanChangeEvent) error

	// ListByUser returns a user's plan changes, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]billing.PlanChangeEvent, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// CheckoutIntent is a payment-processor checkout the user must complete.
type CheckoutIntent struct {
	URL       string
	SessionID string
}

// PaymentProvider interfaces with the payment processor (Stripe).
type PaymentProvider interface {
	// Name returns the provider name (e.g., "stripe").
	Name() string

	// CreateCustomer creates a customer in the payment system.
	CreateCustomer(ctx context.Context, email, userID string) (customerID string, err error)

	// CreateRecurringCheckout creates a subscription checkout session.
	CreateRecurringCheckout(ctx context.Context, customerID, priceID, successURL, cancelURL string) (CheckoutIntent, error)

	// CreateOneOffCheckout creates a one-time payment session for an
	// amount in cents. Used as the fallback payment link when an
	// immediate invoice charge fails.
	CreateOneOffCheckout(ctx context.Context, customerID string, amountCents int64, description, successURL, cancelURL string) (CheckoutIntent, error)

	// CancelSubscription cancels a subscription, immediately or at
	// period end.
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error

	// CreateInvoice creates an invoice for a customer and returns the
	// processor's invoice ID.
	CreateInvoice(ctx context.Context, customerID string, amountCents int64, description string) (string, error)

	// PayInvoiceImmediately attempts to charge an invoice against the
	// customer's default payment method.
	PayInvoiceImmediately(ctx context.Context, invoiceID string) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailSender sends emails.
type EmailSender interface {
	// Send sends an email.
	Send(ctx context.Context, msg EmailMessage) error

	// SendInvoice sends an invoice notification with a payment link.
	SendInvoice(ctx context.Context, to string, inv billing.Invoice) error
}
