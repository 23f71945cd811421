package sqlite

import (
	"context"
	"database/sql"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// InvoiceStore implements ports.InvoiceStore using SQLite.
type InvoiceStore struct {
	db *DB
}

// NewInvoiceStore creates a new SQLite invoice store.
func NewInvoiceStore(db *DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

const invoiceColumns = `id, user_id, month, period_start, period_end,
	platform_fee_cents, api_usage_cents, total_cents, status, due_date,
	stripe_invoice_id, payment_link_url, created_at`

// Create stores a new invoice.
func (s *InvoiceStore) Create(ctx context.Context, inv billing.Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.UserID, inv.Month, inv.PeriodStart.UTC(), inv.PeriodEnd.UTC(),
		inv.PlatformFeeCents, inv.APIUsageCents, inv.TotalCents,
		string(inv.Status), nullTime(inv.DueDate), inv.StripeInvoiceID,
		inv.PaymentLinkURL, inv.CreatedAt.UTC())
	return err
}

// Get retrieves an invoice by ID.
func (s *InvoiceStore) Get(ctx context.Context, id string) (billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	return scanInvoice(row)
}

// GetByUserAndMonth retrieves a user's recurring invoice for a month.
func (s *InvoiceStore) GetByUserAndMonth(ctx context.Context, userID, month string) (billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = ? AND month = ? AND month != ''
		ORDER BY created_at DESC LIMIT 1
	`, userID, month)
	return scanInvoice(row)
}

// ListByUser returns invoices for a user, newest first.
func (s *InvoiceStore) ListByUser(ctx context.Context, userID string, limit int) ([]billing.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// UpdateStatus updates invoice status and external references. Empty
// reference arguments leave the stored values untouched.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id string, status billing.InvoiceStatus, stripeInvoiceID, paymentLinkURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET
			status = ?,
			stripe_invoice_id = CASE WHEN ? != '' THEN ? ELSE stripe_invoice_id END,
			payment_link_url  = CASE WHEN ? != '' THEN ? ELSE payment_link_url END
		WHERE id = ?
	`, string(status), stripeInvoiceID, stripeInvoiceID,
		paymentLinkURL, paymentLinkURL, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInvoice(row rowScanner) (billing.Invoice, error) {
	var (
		inv     billing.Invoice
		status  string
		dueDate sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.Month, &inv.PeriodStart,
		&inv.PeriodEnd, &inv.PlatformFeeCents, &inv.APIUsageCents,
		&inv.TotalCents, &status, &dueDate, &inv.StripeInvoiceID,
		&inv.PaymentLinkURL, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return billing.Invoice{}, ErrNotFound
	}
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.Status = billing.InvoiceStatus(status)
	inv.PeriodStart = inv.PeriodStart.UTC()
	inv.PeriodEnd = inv.PeriodEnd.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.DueDate = timePtr(dueDate)
	return inv, nil
}

var _ ports.InvoiceStore = (*InvoiceStore)(nil)
