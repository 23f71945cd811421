package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite. Mutations run
// inside IMMEDIATE transactions so the read-check-increment sequence is
// atomic per (user_id, month) row.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the record for a user and month, or a zero-valued record
// when no row exists yet.
func (s *LedgerStore) Get(ctx context.Context, userID, month string) (ledger.Record, error) {
	return s.get(ctx, s.db.DB, userID, month)
}

func (s *LedgerStore) get(ctx context.Context, q querier, userID, month string) (ledger.Record, error) {
	var (
		dailyTokensJSON   string
		dailyRequestsJSON string
		lastEventAt       sql.NullTime
		rec               ledger.Record
	)
	err := q.QueryRowContext(ctx, `
		SELECT daily_tokens_json, monthly_tokens, daily_requests_json,
		       monthly_voice, monthly_chat, total_cost_usd, last_event_at
		FROM usage_records WHERE user_id = ? AND month = ?
	`, userID, month).Scan(&dailyTokensJSON, &rec.MonthlyTokens, &dailyRequestsJSON,
		&rec.MonthlyRequests.Voice, &rec.MonthlyRequests.Chat,
		&rec.TotalCostUSD, &lastEventAt)
	if err == sql.ErrNoRows {
		return ledger.NewRecord(userID, month), nil
	}
	if err != nil {
		return ledger.Record{}, err
	}

	rec.UserID = userID
	rec.Month = month
	if err := json.Unmarshal([]byte(dailyTokensJSON), &rec.DailyTokens); err != nil {
		return ledger.Record{}, fmt.Errorf("decode daily tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(dailyRequestsJSON), &rec.DailyRequests); err != nil {
		return ledger.Record{}, fmt.Errorf("decode daily requests: %w", err)
	}
	if rec.DailyTokens == nil {
		rec.DailyTokens = map[string]int64{}
	}
	if rec.DailyRequests == nil {
		rec.DailyRequests = map[string]ledger.RequestCounts{}
	}
	if lastEventAt.Valid {
		rec.LastEventAt = lastEventAt.Time.UTC()
	}
	return rec, nil
}

// Mutate loads the record, applies fn, and persists the result inside
// one transaction. When fn returns an error nothing is written.
func (s *LedgerStore) Mutate(ctx context.Context, userID, month string, fn func(ledger.Record) (ledger.Record, error)) (ledger.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, userID, month)
	if err != nil {
		return ledger.Record{}, err
	}

	updated, err := fn(rec)
	if err != nil {
		return ledger.Record{}, err
	}
	updated.UserID = userID
	updated.Month = month

	dailyTokensJSON, err := json.Marshal(updated.DailyTokens)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("encode daily tokens: %w", err)
	}
	dailyRequestsJSON, err := json.Marshal(updated.DailyRequests)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("encode daily requests: %w", err)
	}

	var lastEventAt any
	if !updated.LastEventAt.IsZero() {
		lastEventAt = updated.LastEventAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records
			(user_id, month, daily_tokens_json, monthly_tokens,
			 daily_requests_json, monthly_voice, monthly_chat,
			 total_cost_usd, last_event_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET
			daily_tokens_json   = excluded.daily_tokens_json,
			monthly_tokens      = excluded.monthly_tokens,
			daily_requests_json = excluded.daily_requests_json,
			monthly_voice       = excluded.monthly_voice,
			monthly_chat        = excluded.monthly_chat,
			total_cost_usd      = excluded.total_cost_usd,
			last_event_at       = excluded.last_event_at
	`, userID, month, string(dailyTokensJSON), updated.MonthlyTokens,
		string(dailyRequestsJSON), updated.MonthlyRequests.Voice,
		updated.MonthlyRequests.Chat, updated.TotalCostUSD, lastEventAt)
	if err != nil {
		return ledger.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Record{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

var _ ports.LedgerStore = (*LedgerStore)(nil)
