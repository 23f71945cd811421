// Package payment provides payment provider adapters.
package payment

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/invoiceitem"
	"github.com/stripe/stripe-go/v76/subscription"

	"github.com/meterline/meterline/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
}

// StripeProvider implements ports.PaymentProvider for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCustomer creates a customer in Stripe.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("user_id", userID)

	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateRecurringCheckout creates a subscription checkout session.
func (p *StripeProvider) CreateRecurringCheckout(ctx context.Context, customerID, priceID, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return ports.CheckoutIntent{}, err
	}
	return ports.CheckoutIntent{URL: s.URL, SessionID: s.ID}, nil
}

// CreateOneOffCheckout creates a one-time payment session for an amount
// in cents. Used as the fallback payment link when an immediate invoice
// charge fails.
func (p *StripeProvider) CreateOneOffCheckout(ctx context.Context, customerID string, amountCents int64, description, successURL, cancelURL string) (ports.CheckoutIntent, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return ports.CheckoutIntent{}, err
	}
	return ports.CheckoutIntent{URL: s.URL, SessionID: s.ID}, nil
}

// CancelSubscription cancels a subscription.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	if immediately {
		_, err := subscription.Cancel(subscriptionID, nil)
		return err
	}

	// Cancel at period end
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := subscription.Update(subscriptionID, params)
	return err
}

// CreateInvoice creates a finalized Stripe invoice with a single line
// item and returns the Stripe invoice ID.
func (p *StripeProvider) CreateInvoice(ctx context.Context, customerID string, amountCents int64, description string) (string, error) {
	_, err := invoiceitem.New(&stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(description),
	})
	if err != nil {
		return "", err
	}

	inv, err := invoice.New(&stripe.InvoiceParams{
		Customer:    stripe.String(customerID),
		AutoAdvance: stripe.Bool(false),
	})
	if err != nil {
		return "", err
	}

	finalized, err := invoice.FinalizeInvoice(inv.ID, nil)
	if err != nil {
		return "", err
	}
	return finalized.ID, nil
}

// PayInvoiceImmediately attempts to charge an invoice against the
// customer's default payment method.
func (p *StripeProvider) PayInvoiceImmediately(ctx context.Context, invoiceID string) error {
	_, err := invoice.Pay(invoiceID, nil)
	return err
}

var _ ports.PaymentProvider = (*StripeProvider)(nil)
