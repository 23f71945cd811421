package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

// PlanChangeStore implements ports.PlanChangeStore using SQLite.
type PlanChangeStore struct {
	db *DB
}

// NewPlanChangeStore creates a new SQLite plan change store.
func NewPlanChangeStore(db *DB) *PlanChangeStore {
	return &PlanChangeStore{db: db}
}

// Append stores one plan change event.
func (s *PlanChangeStore) Append(ctx context.Context, e billing.PlanChangeEvent) error {
	limitsJSON, err := json.Marshal(e.NewLimits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plan_changes
			(id, user_id, action, from_plan, to_plan, timestamp,
			 new_limits_json, final_invoice_id, final_amount_cents, days_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.Action), string(e.FromPlan), string(e.ToPlan),
		e.Timestamp.UTC(), string(limitsJSON), e.FinalInvoiceID,
		e.FinalAmountCents, e.DaysUsed)
	return err
}

// ListByUser returns a user's plan changes, newest first.
func (s *PlanChangeStore) ListByUser(ctx context.Context, userID string, limit int) ([]billing.PlanChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, from_plan, to_plan, timestamp,
		       new_limits_json, final_invoice_id, final_amount_cents, days_used
		FROM plan_changes
		WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []billing.PlanChangeEvent
	for rows.Next() {
		var (
			e                        billing.PlanChangeEvent
			action, fromPlan, toPlan string
			limitsJSON               string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &fromPlan, &toPlan,
			&e.Timestamp, &limitsJSON, &e.FinalInvoiceID,
			&e.FinalAmountCents, &e.DaysUsed); err != nil {
			return nil, err
		}
		e.Action = billing.PlanChangeAction(action)
		e.FromPlan = limits.Plan(fromPlan)
		e.ToPlan = limits.Plan(toPlan)
		e.Timestamp = e.Timestamp.UTC()
		if err := json.Unmarshal([]byte(limitsJSON), &e.NewLimits); err != nil {
			return nil, fmt.Errorf("decode limits: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ ports.PlanChangeStore = (*PlanChangeStore)(nil)
