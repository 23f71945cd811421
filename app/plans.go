package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterline/meterline/adapters/metrics"
	"github.com/meterline/meterline/domain/billing"
	"github.com/meterline/meterline/domain/limits"
	"github.com/meterline/meterline/ports"
)

// Plan lifecycle errors surfaced to callers.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyPremium       = errors.New("user is already on the premium plan")
	ErrNotPremium           = errors.New("user is not on the premium plan")
	ErrNoActiveSubscription = errors.New("user has no active subscription")
)

// PlanService manages plan transitions: upgrade checkout, upgrade
// completion, and downgrade with prorated final billing.
type PlanService struct {
	users       ports.UserStore
	events      ports.UsageEventStore
	invoices    ports.InvoiceStore
	planChanges ports.PlanChangeStore
	payments    ports.PaymentProvider
	email       ports.EmailSender
	limits      limits.Registry
	clock       ports.Clock
	idGen       ports.IDGenerator
	logger      zerolog.Logger
	metrics     *metrics.Collector

	premiumPriceID string
	baseURL        string
}

// PlanDeps contains dependencies for PlanService.
type PlanDeps struct {
	Users       ports.UserStore
	Events      ports.UsageEventStore
	Invoices    ports.InvoiceStore
	PlanChanges ports.PlanChangeStore
	Payments    ports.PaymentProvider
	Email       ports.EmailSender
	Limits      limits.Registry
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      zerolog.Logger
	Metrics     *metrics.Collector

	PremiumPriceID string
	BaseURL        string
}

// NewPlanService creates a new plan lifecycle service.
func NewPlanService(deps PlanDeps) *PlanService {
	return &PlanService{
		users:          deps.Users,
		events:         deps.Events,
		invoices:       deps.Invoices,
		planChanges:    deps.PlanChanges,
		payments:       deps.Payments,
		email:          deps.Email,
		limits:         deps.Limits,
		clock:          deps.Clock,
		idGen:          deps.IDGen,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		premiumPriceID: deps.PremiumPriceID,
		baseURL:        deps.BaseURL,
	}
}

// Upgrade starts the premium upgrade flow. It creates a payment
// customer if the user has none and returns a recurring checkout the
// user must complete. The plan itself is not changed until
// CompleteUpgrade runs.
func (s *PlanService) Upgrade(ctx context.Context, userID string) (ports.CheckoutIntent, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return ports.CheckoutIntent{}, ErrUserNotFound
		}
		return ports.CheckoutIntent{}, fmt.Errorf("get user: %w", err)
	}
	if user.Plan == limits.PlanPremium {
		return ports.CheckoutIntent{}, ErrAlreadyPremium
	}

	if user.StripeCustomerID == "" {
		customerID, err := s.payments.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return ports.CheckoutIntent{}, fmt.Errorf("create customer: %w", err)
		}
		user.StripeCustomerID = customerID
		if err := s.users.Update(ctx, user); err != nil {
			return ports.CheckoutIntent{}, fmt.Errorf("save customer id: %w", err)
		}
	}

	intent, err := s.payments.CreateRecurringCheckout(ctx,
		user.StripeCustomerID,
		s.premiumPriceID,
		s.baseURL+"/billing/success",
		s.baseURL+"/billing/cancel",
	)
	if err != nil {
		return ports.CheckoutIntent{}, fmt.Errorf("create checkout: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", intent.SessionID).
		Msg("upgrade checkout created")
	return intent, nil
}

// CompleteUpgrade finalizes a paid upgrade: the plan flips to premium,
// the premium limits are snapshotted, and the billing anniversary is
// anchored to today's day-of-month. Called from the payment webhook
// after the first subscription payment succeeds. Idempotent: a user who
// is already premium with an active subscription is left untouched.
func (s *PlanService) CompleteUpgrade(ctx context.Context, userID, subscriptionID string) error {
	now := s.clock.Now().UTC()
	premiumLimits := s.limits.ForPlan(limits.PlanPremium)

	var fromPlan limits.Plan
	var applied bool
	_, err := s.users.UpdatePlan(ctx, userID, func(u ports.User) (ports.User, error) {
		if u.Plan == limits.PlanPremium && u.SubscriptionStatus == billing.SubscriptionActive {
			return u, nil
		}
		fromPlan = u.Plan
		applied = true

		snapshot := premiumLimits
		u.Plan = limits.PlanPremium
		u.Limits = &snapshot
		u.BillingAnniversaryDay = now.Day()
		u.SubscriptionStatus = billing.SubscriptionActive
		u.StripeSubscriptionID = subscriptionID
		u.UpgradedAt = &now
		u.CurrentPeriodStart = &now
		u.LastFeePaymentAt = &now
		return u, nil
	})
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if !applied {
		s.logger.Debug().Str("user_id", userID).Msg("upgrade already completed")
		return nil
	}

	change := billing.PlanChangeEvent{
		ID:        s.idGen.New(),
		UserID:    userID,
		Action:    billing.ActionUpgrade,
		FromPlan:  fromPlan,
		ToPlan:    limits.PlanPremium,
		Timestamp: now,
		NewLimits: premiumLimits,
	}
	if err := s.planChanges.Append(ctx, change); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("plan change log append failed")
	}
	s.metrics.PlanChanges.WithLabelValues(string(billing.ActionUpgrade)).Inc()

	s.logger.Info().
		Str("user_id", userID).
		Int("anniversary_day", now.Day()).
		Msg("upgrade completed")
	return nil
}

// Downgrade moves a premium user back to the free plan, billing the
// prorated API usage since the later of the current period start and
// the upgrade time. The subscription is always cancelled immediately;
// a failed immediate charge degrades to a payment link, never to a
// failed downgrade.
func (s *PlanService) Downgrade(ctx context.Context, userID string) (billing.ProratedUsage, error) {
	now := s.clock.Now().UTC()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return billing.ProratedUsage{}, ErrUserNotFound
		}
		return billing.ProratedUsage{}, fmt.Errorf("get user: %w", err)
	}
	if user.Plan != limits.PlanPremium {
		return billing.ProratedUsage{}, ErrNotPremium
	}
	if user.StripeSubscriptionID == "" {
		return billing.ProratedUsage{}, ErrNoActiveSubscription
	}

	start := billing.ProrationStart(user.CurrentPeriodStart, user.UpgradedAt, now)
	events, err := s.events.ListWindow(ctx, userID, start, now)
	if err != nil {
		return billing.ProratedUsage{}, fmt.Errorf("list usage events: %w", err)
	}
	prorated := billing.CalculateProration(events, user.CurrentPeriodStart, user.UpgradedAt, now)

	var finalInvoiceID string
	if prorated.TotalCost > 0 {
		finalInvoiceID, err = s.chargeFinalInvoice(ctx, user, prorated, now)
		if err != nil {
			return billing.ProratedUsage{}, err
		}
	}

	// The subscription must not survive the downgrade. Unlike the
	// final charge this has no fallback.
	if err := s.payments.CancelSubscription(ctx, user.StripeSubscriptionID, true); err != nil {
		return billing.ProratedUsage{}, fmt.Errorf("cancel subscription: %w", err)
	}

	freeLimits := s.limits.ForPlan(limits.PlanFree)
	_, err = s.users.UpdatePlan(ctx, userID, func(u ports.User) (ports.User, error) {
		snapshot := freeLimits
		u.PreviousPlan = u.Plan
		u.PreviousSubscriptionID = u.StripeSubscriptionID
		u.Plan = limits.PlanFree
		u.Limits = &snapshot
		u.SubscriptionStatus = billing.SubscriptionCancelled
		u.StripeSubscriptionID = ""
		u.CurrentPeriodStart = nil
		return u, nil
	})
	if err != nil {
		return billing.ProratedUsage{}, fmt.Errorf("update plan: %w", err)
	}

	change := billing.PlanChangeEvent{
		ID:               s.idGen.New(),
		UserID:           userID,
		Action:           billing.ActionDowngrade,
		FromPlan:         limits.PlanPremium,
		ToPlan:           limits.PlanFree,
		Timestamp:        now,
		NewLimits:        freeLimits,
		FinalInvoiceID:   finalInvoiceID,
		FinalAmountCents: billing.CentsFromUSD(prorated.TotalCost),
		DaysUsed:         prorated.DaysUsed,
	}
	if err := s.planChanges.Append(ctx, change); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("plan change log append failed")
	}
	s.metrics.PlanChanges.WithLabelValues(string(billing.ActionDowngrade)).Inc()

	s.logger.Info().
		Str("user_id", userID).
		Int("days_used", prorated.DaysUsed).
		Float64("final_cost_usd", prorated.TotalCost).
		Msg("downgrade completed")
	return prorated, nil
}

// chargeFinalInvoice creates and attempts to collect the prorated final
// invoice. When the immediate charge fails the invoice flips to
// pending_payment with a one-off checkout link and an email, and the
// downgrade proceeds anyway.
func (s *PlanService) chargeFinalInvoice(ctx context.Context, user ports.User, prorated billing.ProratedUsage, now time.Time) (string, error) {
	inv := billing.NewProrationInvoice(user.ID, prorated.PeriodStart, prorated.PeriodEnd, prorated.TotalCost, now)
	inv.ID = s.idGen.New()
	if err := s.invoices.Create(ctx, inv); err != nil {
		return "", fmt.Errorf("create final invoice: %w", err)
	}

	desc := fmt.Sprintf("Final API usage %s (%d days)",
		billing.FormatAmount(inv.TotalCents), prorated.DaysUsed)
	stripeInvoiceID, err := s.payments.CreateInvoice(ctx, user.StripeCustomerID, inv.TotalCents, desc)
	if err != nil {
		return inv.ID, s.fallbackPaymentLink(ctx, user, inv, desc, err)
	}

	if err := s.payments.PayInvoiceImmediately(ctx, stripeInvoiceID); err != nil {
		return inv.ID, s.fallbackPaymentLink(ctx, user, inv, desc, err)
	}

	if err := s.invoices.UpdateStatus(ctx, inv.ID, billing.InvoiceStatusPaid, stripeInvoiceID, ""); err != nil {
		s.logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("invoice status update failed")
	}
	return inv.ID, nil
}

// fallbackPaymentLink handles a failed immediate charge: the invoice
// stays collectible through a one-off checkout link mailed to the user.
func (s *PlanService) fallbackPaymentLink(ctx context.Context, user ports.User, inv billing.Invoice, desc string, cause error) error {
	s.logger.Warn().Err(cause).
		Str("user_id", user.ID).
		Str("invoice_id", inv.ID).
		Msg("immediate charge failed, falling back to payment link")

	intent, err := s.payments.CreateOneOffCheckout(ctx,
		user.StripeCustomerID,
		inv.TotalCents,
		desc,
		s.baseURL+"/billing/success",
		s.baseURL+"/billing/cancel",
	)
	if err != nil {
		return fmt.Errorf("create payment link: %w", err)
	}

	if err := s.invoices.UpdateStatus(ctx, inv.ID, billing.InvoiceStatusPendingPayment, "", intent.URL); err != nil {
		s.logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("invoice status update failed")
	}

	mailed := inv
	mailed.Status = billing.InvoiceStatusPendingPayment
	mailed.PaymentLinkURL = intent.URL
	if user.Email != "" {
		if err := s.email.SendInvoice(ctx, user.Email, mailed); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("invoice email failed")
		}
	}
	return nil
}

// UsagePreview is a downgrade bill preview: the proration summary plus
// the raw events inside the billing window, for detailed display.
type UsagePreview struct {
	billing.ProratedUsage
	Events []billing.UsageEvent
}

// CalculateProratedUsage previews the downgrade bill without changing
// anything. Useful for a confirmation screen.
func (s *PlanService) CalculateProratedUsage(ctx context.Context, userID string) (UsagePreview, error) {
	now := s.clock.Now().UTC()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return UsagePreview{}, ErrUserNotFound
		}
		return UsagePreview{}, fmt.Errorf("get user: %w", err)
	}
	if user.Plan != limits.PlanPremium {
		return UsagePreview{}, ErrNotPremium
	}

	start := billing.ProrationStart(user.CurrentPeriodStart, user.UpgradedAt, now)
	events, err := s.events.ListWindow(ctx, userID, start, now)
	if err != nil {
		return UsagePreview{}, fmt.Errorf("list usage events: %w", err)
	}
	return UsagePreview{
		ProratedUsage: billing.CalculateProration(events, user.CurrentPeriodStart, user.UpgradedAt, now),
		Events:        events,
	}, nil
}

// PlanHistory returns a user's plan change log, newest first.
func (s *PlanService) PlanHistory(ctx context.Context, userID string, limit int) ([]billing.PlanChangeEvent, error) {
	return s.planChanges.ListByUser(ctx, userID, limit)
}
