// Package payments adapts the Stripe SDK to the billing domain.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	"github.com/wangwalk/tanstack-start-dev/internal/config"
)

var (
	// ErrWebhookSecretMissing is returned when no webhook secret is configured.
	ErrWebhookSecretMissing = errors.New("stripe webhook secret is not configured")
	// ErrNotConfigured is returned for API calls when no secret key is configured.
	ErrNotConfigured = errors.New("stripe secret key is not configured")
	// ErrInvalidSignature wraps signature verification failures.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUndecodableEvent wraps decode failures of a correctly signed event.
	ErrUndecodableEvent = errors.New("undecodable webhook event")
)

// CustomerParams describes a billing customer to create.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
	// IdempotencyKey makes retried creations collapse onto one customer.
	IdempotencyKey string
}

// CheckoutParams describes a subscription checkout session.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Gateway is the subset of the payment provider the service uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
	// ParseWebhook verifies the signature header against the raw payload and
	// decodes the event.
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
	WebhookConfigured() bool
}

type stripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway with its own API client. The SDK's
// package-level key is never set.
func NewStripeGateway(cfg config.StripeConfig) Gateway {
	var api *client.API
	if cfg.SecretKey != "" {
		api = client.New(cfg.SecretKey, nil)
	}
	return &stripeGateway{api: api, webhookSecret: cfg.WebhookSecret}
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
		Metadata: map[string]string{
			"userId": p.UserID,
		},
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer creation failed: %w", err)
	}
	return cust.ID, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

func (g *stripeGateway) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	if g.api == nil {
		return time.Time{}, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to retrieve subscription: %w", err)
	}
	return time.Unix(sub.CurrentPeriodEnd, 0).UTC(), nil
}

func (g *stripeGateway) WebhookConfigured() bool {
	return g.webhookSecret != ""
}

func (g *stripeGateway) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ev, err := DecodeEvent(event)
	if err != nil {
		// The signature is valid, so hand back what is known about the event.
		return &billing.Event{ID: event.ID, Kind: billing.EventKind(event.Type)},
			fmt.Errorf("%w: %v", ErrUndecodableEvent, err)
	}
	return ev, nil
}

// DecodeEvent converts a verified Stripe event into a billing event. Event
// types the state machine ignores decode to an Event with only ID and Kind.
func DecodeEvent(event stripe.Event) (*billing.Event, error) {
	ev := &billing.Event{ID: event.ID, Kind: billing.EventKind(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch ev.Kind {
	case billing.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		ev.Plan = sess.Metadata["plan"]
		ev.AmountTotal = sess.AmountTotal
		ev.Currency = string(sess.Currency)

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		ev.SubscriptionID = sub.ID
		ev.ProviderStatus = string(sub.Status)
		ev.Plan = sub.Metadata["plan"]
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.PriceID = sub.Items.Data[0].Price.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			ev.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}

	case billing.EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}
		ev.AmountTotal = inv.AmountDue
		ev.Currency = string(inv.Currency)
	}

	return ev, nil
}

// Compile-time check to ensure stripeGateway implements Gateway.
var _ Gateway = (*stripeGateway)(nil)
