// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meterline/meterline/adapters/metrics"
	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/ledger"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/domain/pricing"
	"github.com/meterline/meterline/ports"
)

// UsageService meters token and request usage against plan limits.
// All checks and increments for one user-month run inside a single
// ledger transaction, so concurrent reports cannot overshoot a cap.
type UsageService struct {
	users   ports.UserStore
	ledgers ports.LedgerStore
	events  ports.UsageEventStore
	pricing pricing.Table
	limits  limits.Registry
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// UsageDeps contains dependencies for UsageService.
type UsageDeps struct {
	Users   ports.UserStore
	Ledgers ports.LedgerStore
	Events  ports.UsageEventStore
	Pricing pricing.Table
	Limits  limits.Registry
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// NewUsageService creates a new usage service.
func NewUsageService(deps UsageDeps) *UsageService {
	return &UsageService{
		users:   deps.Users,
		ledgers: deps.Ledgers,
		events:  deps.Events,
		pricing: deps.Pricing,
		limits:  deps.Limits,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// RecordTokenUsage applies a completed upstream call to the user's
// ledger. The caps are checked and the counters incremented atomically;
// a rejection leaves the ledger untouched.
//
// The raw cost event is appended after the ledger commit. A failure
// there is logged and counted but not returned: the tokens were already
// spent upstream, and the ledger remains the source of truth for caps.
func (s *UsageService) RecordTokenUsage(ctx context.Context, userID string, ev ledger.TokenEvent) (ledger.TokenOutcome, error) {
	now := s.clock.Now()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return ledger.TokenOutcome{}, fmt.Errorf("get user: %w", err)
	}
	lim := user.EffectiveLimits(s.limits)

	cost, err := s.pricing.Cost(ev.Model, ev.PromptTokens, ev.CompletionTokens, ev.CachedTokens)
	if err != nil {
		return ledger.TokenOutcome{}, err
	}

	month := ledger.MonthKey(now)
	var outcome ledger.TokenOutcome
	_, err = s.ledgers.Mutate(ctx, userID, month, func(rec ledger.Record) (ledger.Record, error) {
		updated, out, err := ledger.ApplyTokens(rec, ev, lim, cost, now)
		if err != nil {
			return rec, err
		}
		outcome = out
		return updated, nil
	})
	if err != nil {
		if code, ok := ledger.IsRejection(err); ok {
			s.metrics.UsageRejections.WithLabelValues(code).Inc()
			s.logger.Debug().
				Str("user_id", userID).
				Str("code", code).
				Msg("usage report rejected")
		}
		return ledger.TokenOutcome{}, err
	}

	s.metrics.TokensRecorded.WithLabelValues(string(user.Plan), ev.Model).Add(float64(outcome.TokensAdded))
	s.metrics.UsageCostUSD.WithLabelValues(string(user.Plan), ev.Model).Add(cost)

	event := billing.UsageEvent{
		ID:               s.idGen.New(),
		UserID:           userID,
		Model:            ev.Model,
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		CostUSD:          cost,
		Timestamp:        ev.Timestamp,
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.metrics.RecordingFailures.Inc()
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("model", ev.Model).
			Msg("usage event append failed after ledger commit")
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("model", ev.Model).
		Int64("tokens", outcome.TokensAdded).
		Float64("cost_usd", cost).
		Msg("token usage recorded")

	return outcome, nil
}

// RecordRequest applies a voice or chat request count to the user's
// daily counters.
func (s *UsageService) RecordRequest(ctx context.Context, userID string, rt ledger.RequestType, count int64) (ledger.RequestOutcome, error) {
	now := s.clock.Now()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return ledger.RequestOutcome{}, fmt.Errorf("get user: %w", err)
	}
	lim := user.EffectiveLimits(s.limits)

	month := ledger.MonthKey(now)
	var outcome ledger.RequestOutcome
	_, err = s.ledgers.Mutate(ctx, userID, month, func(rec ledger.Record) (ledger.Record, error) {
		updated, out, err := ledger.ApplyRequests(rec, rt, count, lim, now)
		if err != nil {
			return rec, err
		}
		outcome = out
		return updated, nil
	})
	if err != nil {
		if code, ok := ledger.IsRejection(err); ok {
			s.metrics.UsageRejections.WithLabelValues(code).Inc()
		}
		return ledger.RequestOutcome{}, err
	}

	s.metrics.RequestsRecorded.WithLabelValues(string(user.Plan), string(rt)).Add(float64(count))
	return outcome, nil
}

// CanUseResult reports whether a user may make another request and how
// much headroom remains. Cheap, read-only, and advisory: the actual
// reservation happens in RecordTokenUsage.
type CanUseResult struct {
	AllowedChat  bool
	AllowedVoice bool
	Reason       string // rejection code when something is blocked
	Remaining    ledger.Remaining
}

// CanUse performs a read-only check of the user's current headroom.
// Voice and chat request caps gate independently; an exhausted token
// cap blocks both. Never mutates the ledger.
func (s *UsageService) CanUse(ctx context.Context, userID string) (CanUseResult, error) {
	now := s.clock.Now()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return CanUseResult{}, fmt.Errorf("get user: %w", err)
	}
	lim := user.EffectiveLimits(s.limits)

	rec, err := s.ledgers.Get(ctx, userID, ledger.MonthKey(now))
	if err != nil {
		return CanUseResult{}, fmt.Errorf("get ledger: %w", err)
	}

	rem := ledger.RemainingUnder(rec, lim, now)
	res := CanUseResult{
		AllowedChat:  rem.ChatRequests != 0,
		AllowedVoice: rem.VoiceRequests != 0,
		Remaining:    rem,
	}
	switch {
	case rem.DailyTokens == 0:
		res.AllowedChat, res.AllowedVoice = false, false
		res.Reason = ledger.CodeDailyLimitExceeded
	case rem.MonthlyTokens == 0:
		res.AllowedChat, res.AllowedVoice = false, false
		res.Reason = ledger.CodeMonthlyLimitExceeded
	case !res.AllowedChat || !res.AllowedVoice:
		res.Reason = ledger.CodeDailyLimitExceeded
	}
	return res, nil
}

// UsageSummary is a read model of one user-month.
type UsageSummary struct {
	Plan      limits.Plan
	Record    ledger.Record
	Limits    limits.Limits
	Remaining ledger.Remaining
}

// GetUsageSummary returns the usage record for a user and month with
// the user's limits and current-day headroom attached.
func (s *UsageService) GetUsageSummary(ctx context.Context, userID, month string) (UsageSummary, error) {
	if _, _, err := billing.MonthBounds(month); err != nil {
		return UsageSummary{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("get user: %w", err)
	}
	lim := user.EffectiveLimits(s.limits)

	rec, err := s.ledgers.Get(ctx, userID, month)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("get ledger: %w", err)
	}

	return UsageSummary{
		Plan:      user.Plan,
		Record:    rec,
		Limits:    lim,
		Remaining: ledger.RemainingUnder(rec, lim, s.clock.Now()),
	}, nil
}

// ResetToday zeroes the user's counters for the current UTC day,
// keeping monthly totals consistent. Used by support tooling after
// plan-change adjustments.
func (s *UsageService) ResetToday(ctx context.Context, userID string) error {
	now := s.clock.Now()
	_, err := s.ledgers.Mutate(ctx, userID, ledger.MonthKey(now), func(rec ledger.Record) (ledger.Record, error) {
		return ledger.ResetDay(rec, now), nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", userID).Msg("daily usage reset")
	return nil
}

// UserLimits is the routing layer's view of a user: plan, effective
// limits and the payment customer reference.
type UserLimits struct {
	Plan             limits.Plan
	Limits           limits.Limits
	StripeCustomerID string
}

// GetUserLimits resolves the plan and effective limits for a user.
func (s *UsageService) GetUserLimits(ctx context.Context, userID string) (UserLimits, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return UserLimits{}, ErrUserNotFound
		}
		return UserLimits{}, fmt.Errorf("get user: %w", err)
	}
	return UserLimits{
		Plan:             user.Plan,
		Limits:           user.EffectiveLimits(s.limits),
		StripeCustomerID: user.StripeCustomerID,
	}, nil
}
