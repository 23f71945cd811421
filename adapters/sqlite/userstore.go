package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = fmt.Errorf("sqlite: %w", ports.ErrNotFound)

// UserStore implements ports.UserStore using SQLite.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new SQLite user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, plan, limits_json, billing_anniversary_day,
	subscription_status, stripe_customer_id, stripe_subscription_id,
	previous_plan, previous_subscription_id, upgraded_at,
	current_period_start, last_fee_payment_at, created_at, updated_at`

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (ports.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// Create stores a new user.
func (s *UserStore) Create(ctx context.Context, u ports.User) error {
	limitsJSON, err := marshalLimits(u.Limits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, string(u.Plan), limitsJSON, u.BillingAnniversaryDay,
		string(u.SubscriptionStatus), u.StripeCustomerID, u.StripeSubscriptionID,
		string(u.PreviousPlan), u.PreviousSubscriptionID, nullTime(u.UpgradedAt),
		nullTime(u.CurrentPeriodStart), nullTime(u.LastFeePaymentAt),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return err
}

// Update modifies an existing user.
func (s *UserStore) Update(ctx context.Context, u ports.User) error {
	return s.update(ctx, s.db.DB, u)
}

func (s *UserStore) update(ctx context.Context, q execer, u ports.User) error {
	limitsJSON, err := marshalLimits(u.Limits)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE users SET
			email = ?, plan = ?, limits_json = ?, billing_anniversary_day = ?,
			subscription_status = ?, stripe_customer_id = ?, stripe_subscription_id = ?,
			previous_plan = ?, previous_subscription_id = ?, upgraded_at = ?,
			current_period_start = ?, last_fee_payment_at = ?, updated_at = ?
		WHERE id = ?
	`, u.Email, string(u.Plan), limitsJSON, u.BillingAnniversaryDay,
		string(u.SubscriptionStatus), u.StripeCustomerID, u.StripeSubscriptionID,
		string(u.PreviousPlan), u.PreviousSubscriptionID, nullTime(u.UpgradedAt),
		nullTime(u.CurrentPeriodStart), nullTime(u.LastFeePaymentAt),
		u.UpdatedAt.UTC(), u.ID)
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

// UpdatePlan applies fn to the user inside an IMMEDIATE transaction,
// serializing concurrent plan transitions for the same user.
func (s *UserStore) UpdatePlan(ctx context.Context, id string, fn func(ports.User) (ports.User, error)) (ports.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return ports.User{}, err
	}

	updated, err := fn(u)
	if err != nil {
		return ports.User{}, err
	}
	updated.ID = id

	if err := s.update(ctx, tx, updated); err != nil {
		return ports.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return ports.User{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// ListByPlan returns users on a plan, ordered by ID.
func (s *UserStore) ListByPlan(ctx context.Context, plan limits.Plan, limit, offset int) ([]ports.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE plan = ? ORDER BY id LIMIT ? OFFSET ?
	`, string(plan), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ports.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (ports.User, error) {
	var (
		u              ports.User
		plan, prevPlan string
		subStatus      string
		limitsJSON     sql.NullString
		upgradedAt     sql.NullTime
		periodStart    sql.NullTime
		lastFeePaid    sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &plan, &limitsJSON, &u.BillingAnniversaryDay,
		&subStatus, &u.StripeCustomerID, &u.StripeSubscriptionID,
		&prevPlan, &u.PreviousSubscriptionID, &upgradedAt,
		&periodStart, &lastFeePaid, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return ports.User{}, ErrNotFound
	}
	if err != nil {
		return ports.User{}, err
	}

	u.Plan = limits.ParsePlan(plan)
	if prevPlan != "" {
		u.PreviousPlan = limits.ParsePlan(prevPlan)
	}
	u.SubscriptionStatus = billing.SubscriptionStatus(subStatus)
	u.UpgradedAt = timePtr(upgradedAt)
	u.CurrentPeriodStart = timePtr(periodStart)
	u.LastFeePaymentAt = timePtr(lastFeePaid)

	if limitsJSON.Valid && limitsJSON.String != "" {
		var lim limits.Limits
		if err := json.Unmarshal([]byte(limitsJSON.String), &lim); err != nil {
			return ports.User{}, fmt.Errorf("decode limits snapshot: %w", err)
		}
		u.Limits = &lim
	}
	return u, nil
}

func marshalLimits(lim *limits.Limits) (any, error) {
	if lim == nil {
		return nil, nil
	}
	b, err := json.Marshal(lim)
	if err != nil {
		return nil, fmt.Errorf("encode limits snapshot: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
