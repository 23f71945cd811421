// Package ledger provides the per-user-per-month usage record and the
// pure check/apply functions that guard it. All functions here are
// side-effect free; atomicity is the store's job.
package ledger

import (
	"fmt"
	"time"

	"github.com/meterline/meterline/domain/limits"
)

// RequestType distinguishes metered request categories.
type RequestType string

const (
	RequestVoice RequestType = "voice"
	RequestChat  RequestType = "chat"
)

// RequestCounts holds per-type request counters (value type).
type RequestCounts struct {
	Voice int64
	Chat  int64
}

// Record is the authoritative usage state for one user in one calendar
// month. Months and days are UTC-anchored. MonthlyTokens always equals
// the sum of DailyTokens values.
type Record struct {
	UserID          string
	Month           string           // "YYYY-MM"
	DailyTokens     map[string]int64 // "YYYY-MM-DD" -> tokens
	MonthlyTokens   int64
	DailyRequests   map[string]RequestCounts
	MonthlyRequests RequestCounts
	TotalCostUSD    float64
	LastEventAt     time.Time // zero value means no events yet
}

// NewRecord returns a zero-valued record for a user and month.
func NewRecord(userID, month string) Record {
	return Record{
		UserID:        userID,
		Month:         month,
		DailyTokens:   map[string]int64{},
		DailyRequests: map[string]RequestCounts{},
	}
}

// Clone deep-copies a record so apply functions never alias the input.
func (r Record) Clone() Record {
	out := r
	out.DailyTokens = make(map[string]int64, len(r.DailyTokens))
	for k, v := range r.DailyTokens {
		out.DailyTokens[k] = v
	}
	out.DailyRequests = make(map[string]RequestCounts, len(r.DailyRequests))
	for k, v := range r.DailyRequests {
		out.DailyRequests[k] = v
	}
	return out
}

// Consistent reports whether MonthlyTokens equals the sum of the daily
// buckets. Used by tests and the sqlite store's read path.
func (r Record) Consistent() bool {
	var sum int64
	for _, v := range r.DailyTokens {
		sum += v
	}
	return sum == r.MonthlyTokens
}

// MonthKey formats a time as the UTC month key.
// This is a PURE function.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DayKey formats a time as the UTC day key.
// This is a PURE function.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TokenEvent reports a completed upstream call.
type TokenEvent struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	Timestamp        time.Time
}

// TotalTokens returns prompt + completion tokens.
func (e TokenEvent) TotalTokens() int64 {
	return e.PromptTokens + e.CompletionTokens
}

// Rejection codes consumed by the routing layer for status mapping.
const (
	CodeDailyLimitExceeded   = "daily_limit_exceeded"
	CodeMonthlyLimitExceeded = "monthly_limit_exceeded"
	CodeOutOfOrderReport     = "duplicate_or_out_of_order"
)

// RejectionError is an expected, recoverable refusal of a usage event.
// It is never logged as a system error.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// IsRejection returns the rejection code if err is a RejectionError.
func IsRejection(err error) (string, bool) {
	if re, ok := err.(*RejectionError); ok {
		return re.Code, true
	}
	return "", false
}

// TokenOutcome describes a successful token usage application.
type TokenOutcome struct {
	TokensAdded     int64
	CostAdded       float64
	NewDailyTotal   int64
	NewMonthlyTotal int64
}

// ApplyTokens checks a token event against the limits and, if allowed,
// returns a new record with the counters incremented. The input record
// is never mutated; on error it is returned unchanged.
//
// Check order: daily cap, monthly cap, event ordering. A rejected event
// leaves no trace in the record.
// This is a PURE function.
func ApplyTokens(rec Record, ev TokenEvent, lim limits.Limits, cost float64, now time.Time) (Record, TokenOutcome, error) {
	if ev.PromptTokens < 0 || ev.CompletionTokens < 0 || ev.CachedTokens < 0 {
		return rec, TokenOutcome{}, fmt.Errorf("ledger: negative token count")
	}
	total := ev.TotalTokens()
	if lim.MaxTokensPerRequest > 0 && total > lim.MaxTokensPerRequest {
		return rec, TokenOutcome{}, fmt.Errorf("ledger: %d tokens exceeds per-request cap %d", total, lim.MaxTokensPerRequest)
	}

	day := DayKey(now)
	dailyUsed := rec.DailyTokens[day]

	if lim.ChatTokensDaily > 0 && dailyUsed+total > lim.ChatTokensDaily {
		return rec, TokenOutcome{}, &RejectionError{
			Code:    CodeDailyLimitExceeded,
			Message: fmt.Sprintf("daily token limit exceeded: %d used, %d requested, %d allowed", dailyUsed, total, lim.ChatTokensDaily),
		}
	}
	if lim.ChatTokensMonthly > 0 && rec.MonthlyTokens+total > lim.ChatTokensMonthly {
		return rec, TokenOutcome{}, &RejectionError{
			Code:    CodeMonthlyLimitExceeded,
			Message: fmt.Sprintf("monthly token limit exceeded: %d used, %d requested, %d allowed", rec.MonthlyTokens, total, lim.ChatTokensMonthly),
		}
	}
	if !rec.LastEventAt.IsZero() && !ev.Timestamp.After(rec.LastEventAt) {
		return rec, TokenOutcome{}, &RejectionError{
			Code:    CodeOutOfOrderReport,
			Message: fmt.Sprintf("event timestamp %s not after last reported %s", ev.Timestamp.UTC().Format(time.RFC3339Nano), rec.LastEventAt.UTC().Format(time.RFC3339Nano)),
		}
	}

	out := rec.Clone()
	out.DailyTokens[day] = dailyUsed + total
	out.MonthlyTokens += total
	out.TotalCostUSD += cost
	out.LastEventAt = ev.Timestamp.UTC()

	return out, TokenOutcome{
		TokensAdded:     total,
		CostAdded:       cost,
		NewDailyTotal:   out.DailyTokens[day],
		NewMonthlyTotal: out.MonthlyTokens,
	}, nil
}

// RequestOutcome describes a successful request-count application.
type RequestOutcome struct {
	RequestsAdded int64
	NewDailyCount int64
}

// ApplyRequests checks and increments a per-type daily request counter.
// Only daily caps exist for requests.
// This is a PURE function.
func ApplyRequests(rec Record, rt RequestType, count int64, lim limits.Limits, now time.Time) (Record, RequestOutcome, error) {
	if count <= 0 {
		return rec, RequestOutcome{}, fmt.Errorf("ledger: request count must be positive")
	}

	day := DayKey(now)
	counts := rec.DailyRequests[day]

	var used, dayCap int64
	switch rt {
	case RequestVoice:
		used, dayCap = counts.Voice, lim.VoiceRequestsDaily
	case RequestChat:
		used, dayCap = counts.Chat, lim.ChatRequestsDaily
	default:
		return rec, RequestOutcome{}, fmt.Errorf("ledger: unknown request type %q", rt)
	}

	if dayCap > 0 && used+count > dayCap {
		return rec, RequestOutcome{}, &RejectionError{
			Code:    CodeDailyLimitExceeded,
			Message: fmt.Sprintf("daily %s request limit exceeded: %d used, %d requested, %d allowed", rt, used, count, dayCap),
		}
	}

	out := rec.Clone()
	switch rt {
	case RequestVoice:
		counts.Voice += count
		out.MonthlyRequests.Voice += count
	case RequestChat:
		counts.Chat += count
		out.MonthlyRequests.Chat += count
	}
	out.DailyRequests[day] = counts

	return out, RequestOutcome{RequestsAdded: count, NewDailyCount: used + count}, nil
}

// ResetDay overwrites (not adds to) today's buckets with zero, keeping
// the monthly totals consistent with the daily sums. Used by
// plan-change adjustment flows.
// This is a PURE function.
func ResetDay(rec Record, now time.Time) Record {
	day := DayKey(now)
	out := rec.Clone()

	out.MonthlyTokens -= out.DailyTokens[day]
	delete(out.DailyTokens, day)

	counts := out.DailyRequests[day]
	out.MonthlyRequests.Voice -= counts.Voice
	out.MonthlyRequests.Chat -= counts.Chat
	delete(out.DailyRequests, day)

	return out
}

// Remaining summarizes headroom under the given limits.
type Remaining struct {
	DailyTokens   int64
	MonthlyTokens int64
	VoiceRequests int64
	ChatRequests  int64
}

// RemainingUnder computes per-cap headroom for the current UTC day.
// Values never go below zero; a zero cap means unmetered and reports -1.
// This is a PURE function.
func RemainingUnder(rec Record, lim limits.Limits, now time.Time) Remaining {
	day := DayKey(now)
	counts := rec.DailyRequests[day]

	return Remaining{
		DailyTokens:   headroom(lim.ChatTokensDaily, rec.DailyTokens[day]),
		MonthlyTokens: headroom(lim.ChatTokensMonthly, rec.MonthlyTokens),
		VoiceRequests: headroom(lim.VoiceRequestsDaily, counts.Voice),
		ChatRequests:  headroom(lim.ChatRequestsDaily, counts.Chat),
	}
}

func headroom(limit, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
