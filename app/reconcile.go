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
	"github.com/meterline/meterline/ports"
)

// Invoice generation outcomes.
const (
	OutcomeFreePlan          = "free_plan"
	OutcomeFirstMonthSkipped = "first_month_skipped"
	OutcomeAlreadyInvoiced   = "already_invoiced"
	OutcomeFeeNotDue         = "fee_not_due"
	OutcomeGenerated         = "generated"
)

// InvoiceResult reports what GenerateMonthlyInvoice did for one user.
type InvoiceResult struct {
	Outcome string
	Invoice billing.Invoice // zero unless Outcome == generated
}

// ReconcilerService runs the billing cycle: platform-fee liability
// checks and monthly invoice generation for premium users.
type ReconcilerService struct {
	users    ports.UserStore
	events   ports.UsageEventStore
	invoices ports.InvoiceStore
	payments ports.PaymentProvider
	email    ports.EmailSender
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger
	metrics  *metrics.Collector

	platformFeeCents int64
	baseURL          string
	batchSize        int
}

// ReconcilerDeps contains dependencies for ReconcilerService.
type ReconcilerDeps struct {
	Users    ports.UserStore
	Events   ports.UsageEventStore
	Invoices ports.InvoiceStore
	Payments ports.PaymentProvider
	Email    ports.EmailSender
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
	Metrics  *metrics.Collector

	PlatformFeeCents int64
	BaseURL          string
	BatchSize        int
}

// NewReconcilerService creates a new billing reconciler.
func NewReconcilerService(deps ReconcilerDeps) *ReconcilerService {
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &ReconcilerService{
		users:            deps.Users,
		events:           deps.Events,
		invoices:         deps.Invoices,
		payments:         deps.Payments,
		email:            deps.Email,
		clock:            deps.Clock,
		idGen:            deps.IDGen,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
		platformFeeCents: deps.PlatformFeeCents,
		baseURL:          deps.BaseURL,
		batchSize:        batch,
	}
}

// PlatformFeeRequired reports whether the recurring platform fee is due
// for a user right now, with the reason and the next billing date.
func (s *ReconcilerService) PlatformFeeRequired(ctx context.Context, userID string) (billing.FeeDecision, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return billing.FeeDecision{}, ErrUserNotFound
		}
		return billing.FeeDecision{}, fmt.Errorf("get user: %w", err)
	}
	return billing.PlatformFeeRequired(user.Plan, user.BillingAnniversaryDay, user.LastFeePaymentAt, s.clock.Now()), nil
}

// GenerateMonthlyInvoice builds the recurring invoice for one user and
// one "YYYY-MM" month: the platform fee plus the usage cost of the
// billing period ending at that month's anniversary. The first
// recurring invoice reaches back to the upgrade instant, so the upgrade
// month's usage is billed here rather than lost when that month itself
// was skipped. A month is never invoiced twice.
func (s *ReconcilerService) GenerateMonthlyInvoice(ctx context.Context, userID, month string) (InvoiceResult, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return InvoiceResult{}, ErrUserNotFound
		}
		return InvoiceResult{}, fmt.Errorf("get user: %w", err)
	}
	if user.Plan != limits.PlanPremium {
		return InvoiceResult{Outcome: OutcomeFreePlan}, nil
	}
	if user.UpgradedAt != nil && ledger.MonthKey(*user.UpgradedAt) == month {
		// The first platform fee was collected at checkout.
		return InvoiceResult{Outcome: OutcomeFirstMonthSkipped}, nil
	}

	if _, err := s.invoices.GetByUserAndMonth(ctx, userID, month); err == nil {
		return InvoiceResult{Outcome: OutcomeAlreadyInvoiced}, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return InvoiceResult{}, fmt.Errorf("check existing invoice: %w", err)
	}

	start, end, err := billing.BillingPeriod(month, user.BillingAnniversaryDay, user.UpgradedAt)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("parse month: %w", err)
	}
	usageUSD, err := s.events.SumCosts(ctx, userID, start, end)
	if err != nil {
		return InvoiceResult{}, fmt.Errorf("sum usage costs: %w", err)
	}

	now := s.clock.Now().UTC()
	inv := billing.NewMonthlyInvoice(userID, month, start, end, s.platformFeeCents, usageUSD, now)
	inv.ID = s.idGen.New()
	if err := s.invoices.Create(ctx, inv); err != nil {
		return InvoiceResult{}, fmt.Errorf("create invoice: %w", err)
	}

	// The invoice carries this cycle's platform fee; advance the fee
	// clock so the anniversary check won't charge the month twice.
	if _, err := s.users.UpdatePlan(ctx, userID, func(u ports.User) (ports.User, error) {
		u.LastFeePaymentAt = &now
		return u, nil
	}); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("fee payment timestamp update failed")
	}

	s.attachPaymentLink(ctx, user, &inv, month)

	s.logger.Info().
		Str("user_id", userID).
		Str("month", month).
		Str("total", billing.FormatAmount(inv.TotalCents)).
		Msg("monthly invoice generated")
	return InvoiceResult{Outcome: OutcomeGenerated, Invoice: inv}, nil
}

// attachPaymentLink creates a one-off checkout for the invoice, stores
// the link, and emails the invoice. Failures here leave a collectible
// draft invoice behind; they never fail the generation.
func (s *ReconcilerService) attachPaymentLink(ctx context.Context, user ports.User, inv *billing.Invoice, month string) {
	if user.StripeCustomerID != "" {
		desc := fmt.Sprintf("Meterline %s: platform fee %s + API usage %s",
			month,
			billing.FormatAmount(inv.PlatformFeeCents),
			billing.FormatAmount(inv.APIUsageCents))
		intent, err := s.payments.CreateOneOffCheckout(ctx,
			user.StripeCustomerID,
			inv.TotalCents,
			desc,
			s.baseURL+"/billing/success",
			s.baseURL+"/billing/cancel",
		)
		if err != nil {
			s.logger.Warn().Err(err).Str("invoice_id", inv.ID).Msg("payment link creation failed")
		} else {
			inv.Status = billing.InvoiceStatusPendingPayment
			inv.PaymentLinkURL = intent.URL
			if err := s.invoices.UpdateStatus(ctx, inv.ID, inv.Status, "", intent.URL); err != nil {
				s.logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("invoice status update failed")
			}
		}
	}

	if user.Email != "" {
		if err := s.email.SendInvoice(ctx, user.Email, *inv); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("invoice email failed")
		}
	}
}

// Run reconciles all premium users for the current month. A user is
// invoiced only when the platform-fee check says the fee is due, which
// pins generation to the billing anniversary day. Per-user failures are
// logged and counted; the run keeps going.
func (s *ReconcilerService) Run(ctx context.Context) error {
	now := s.clock.Now().UTC()
	month := ledger.MonthKey(now)

	s.metrics.ReconcilerRuns.Inc()
	s.metrics.ReconcilerLastRun.Set(float64(now.Unix()))

	var processed, failed int
	for offset := 0; ; offset += s.batchSize {
		users, err := s.users.ListByPlan(ctx, limits.PlanPremium, s.batchSize, offset)
		if err != nil {
			return fmt.Errorf("list premium users: %w", err)
		}
		if len(users) == 0 {
			break
		}
		for _, u := range users {
			if err := ctx.Err(); err != nil {
				return err
			}
			dec := billing.PlatformFeeRequired(u.Plan, u.BillingAnniversaryDay, u.LastFeePaymentAt, now)
			if !dec.Required {
				processed++
				s.metrics.InvoicesGenerated.WithLabelValues(OutcomeFeeNotDue).Inc()
				continue
			}
			res, err := s.GenerateMonthlyInvoice(ctx, u.ID, month)
			if err != nil {
				failed++
				s.metrics.ReconcilerErrors.Inc()
				s.logger.Error().Err(err).Str("user_id", u.ID).Msg("reconcile user failed")
				continue
			}
			processed++
			s.metrics.InvoicesGenerated.WithLabelValues(res.Outcome).Inc()
		}
		if len(users) < s.batchSize {
			break
		}
	}

	s.logger.Info().
		Str("month", month).
		Int("processed", processed).
		Int("failed", failed).
		Msg("reconcile run finished")
	return nil
}
