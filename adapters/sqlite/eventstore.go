package sqlite

import (
	"context"
	"time"

	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/ports"
)

// UsageEventStore implements ports.UsageEventStore using SQLite.
type UsageEventStore struct {
	db *DB
}

// NewUsageEventStore creates a new SQLite usage event store.
func NewUsageEventStore(db *DB) *UsageEventStore {
	return &UsageEventStore{db: db}
}

// Append stores one usage event.
func (s *UsageEventStore) Append(ctx context.Context, e billing.UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events
			(id, user_id, model, prompt_tokens, completion_tokens, cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.Model, e.PromptTokens, e.CompletionTokens,
		e.CostUSD, e.Timestamp.UTC())
	return err
}

// ListWindow returns events for a user in [start, end), oldest first.
func (s *UsageEventStore) ListWindow(ctx context.Context, userID string, start, end time.Time) ([]billing.UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, model, prompt_tokens, completion_tokens, cost_usd, timestamp
		FROM usage_events
		WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, userID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []billing.UsageEvent
	for rows.Next() {
		var e billing.UsageEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Model, &e.PromptTokens,
			&e.CompletionTokens, &e.CostUSD, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// SumCosts totals event costs for a user in [start, end).
func (s *UsageEventStore) SumCosts(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
	`, userID, start.UTC(), end.UTC()).Scan(&total)
	return total, err
}

var _ ports.UsageEventStore = (*UsageEventStore)(nil)
