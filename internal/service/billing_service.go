// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	"github.com/wangwalk/tanstack-start-dev/internal/database"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/payments"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "saas_webhook_events_total",
		Help: "Payment provider webhook events by type and outcome",
	},
	[]string{"type", "outcome"},
)

// WebhookOutcome describes what happened to one delivered event.
type WebhookOutcome string

const (
	OutcomeApplied         WebhookOutcome = "applied"
	OutcomeDuplicate       WebhookOutcome = "duplicate"
	OutcomeIgnored         WebhookOutcome = "ignored"
	OutcomeUnknownCustomer WebhookOutcome = "unknown_customer"
	OutcomeFailed          WebhookOutcome = "failed"
)

// WebhookResult reports how a verified delivery was handled.
type WebhookResult struct {
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	Outcome WebhookOutcome `json:"outcome"`
}

var (
	// ErrMissingSignature is returned when a delivery has no signature header.
	ErrMissingSignature = apierrors.ErrBadRequest.WithMessage("Missing Stripe-Signature header")
	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = apierrors.ErrBadRequest.WithMessage("Invalid webhook signature")
)

// SubscriptionInfo is the caller's billing state.
type SubscriptionInfo struct {
	Status            *models.SubscriptionStatus `json:"status"`
	Plan              *string                    `json:"plan"`
	PlanDetails       *billing.Plan              `json:"plan_details,omitempty"`
	Entitled          bool                       `json:"entitled"`
	HasBillingAccount bool                       `json:"has_billing_account"`
}

// EventLedger remembers which provider events have been seen.
type EventLedger interface {
	// MarkProcessed records eventID and reports whether this is its first
	// delivery.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

type redisEventLedger struct {
	redis *database.Redis
	ttl   time.Duration
}

// NewRedisEventLedger creates a ledger that keeps event ids in Redis for ttl.
func NewRedisEventLedger(redis *database.Redis, ttl time.Duration) EventLedger {
	return &redisEventLedger{redis: redis, ttl: ttl}
}

func (l *redisEventLedger) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return l.redis.SetNX(ctx, "stripe:event:"+eventID, 1, l.ttl)
}

// BillingService handles plans, checkout and payment provider events.
type BillingService interface {
	Plans() []billing.Plan
	GetSubscription(ctx context.Context, user *models.User) (*SubscriptionInfo, error)
	CreateCheckoutSession(ctx context.Context, user *models.User, plan string, interval billing.Interval) (string, error)
	CreatePortalSession(ctx context.Context, user *models.User) (string, error)

	// HandleWebhook verifies and applies a delivery. Only a missing or bad
	// signature, or a missing webhook secret, produce an error; failures
	// while applying the event are logged and reported in the result.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
	ApplyEvent(ctx context.Context, ev *billing.Event) (WebhookOutcome, error)
}

type billingService struct {
	users    repository.UserRepository
	gateway  payments.Gateway
	catalog  *billing.Catalog
	ledger   EventLedger
	notifier NotificationService
	siteURL  string
	logger   *slog.Logger

	// customers collapses concurrent customer creation per user.
	customers singleflight.Group
}

// NewBillingService creates a new billing service.
func NewBillingService(
	users repository.UserRepository,
	gateway payments.Gateway,
	catalog *billing.Catalog,
	ledger EventLedger,
	notifier NotificationService,
	siteURL string,
	logger *slog.Logger,
) BillingService {
	return &billingService{
		users:    users,
		gateway:  gateway,
		catalog:  catalog,
		ledger:   ledger,
		notifier: notifier,
		siteURL:  strings.TrimRight(siteURL, "/"),
		logger:   logger,
	}
}

func (s *billingService) Plans() []billing.Plan {
	return s.catalog.Plans()
}

func (s *billingService) GetSubscription(_ context.Context, user *models.User) (*SubscriptionInfo, error) {
	info := &SubscriptionInfo{
		Status:            user.SubscriptionStatus,
		Plan:              user.SubscriptionPlan,
		Entitled:          user.Entitled(),
		HasBillingAccount: user.StripeCustomerID != nil && *user.StripeCustomerID != "",
	}
	if user.SubscriptionPlan != nil {
		if p, ok := s.catalog.Plan(*user.SubscriptionPlan); ok {
			info.PlanDetails = &p
		}
	}
	return info, nil
}

func (s *billingService) CreateCheckoutSession(ctx context.Context, user *models.User, plan string, interval billing.Interval) (string, error) {
	// Fails before any provider call when the pair has no price.
	priceID, err := s.catalog.PriceFor(plan, interval)
	if err != nil {
		return "", err
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.siteURL + "/dashboard?checkout=success",
		CancelURL:  s.siteURL + "/?checkout=cancelled",
		Metadata: map[string]string{
			"userId":   user.ID.String(),
			"plan":     plan,
			"interval": string(interval),
		},
	})
	if err != nil {
		return "", providerError(err)
	}
	return url, nil
}

// ensureCustomer returns the user's billing customer, creating it on first
// use. Concurrent callers for one user share a single creation, the user is
// re-read inside it, and the store only accepts the first id written.
func (s *billingService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	// The flight is shared, so one caller going away must not fail the rest.
	shared := context.WithoutCancel(ctx)
	ch := s.customers.DoChan(user.ID.String(), func() (any, error) {
		ctx := shared
		fresh, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			return "", err
		}
		if fresh == nil {
			return "", apierrors.NewNotFoundError("User")
		}
		if fresh.StripeCustomerID != nil && *fresh.StripeCustomerID != "" {
			return *fresh.StripeCustomerID, nil
		}

		created, err := s.gateway.CreateCustomer(ctx, payments.CustomerParams{
			UserID:         fresh.ID.String(),
			Email:          fresh.Email,
			Name:           fresh.Name,
			IdempotencyKey: "customer-create-" + fresh.ID.String(),
		})
		if err != nil {
			return "", providerError(err)
		}

		effective, err := s.users.SetStripeCustomerIfNull(ctx, fresh.ID, created)
		if err != nil {
			return "", err
		}
		if effective != created {
			s.logger.Warn("billing customer already assigned",
				slog.String("user_id", fresh.ID.String()),
				slog.String("kept", effective),
				slog.String("discarded", created),
			)
		}
		return effective, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}

	customerID := res.Val.(string)
	user.StripeCustomerID = &customerID
	return customerID, nil
}

func (s *billingService) CreatePortalSession(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", apierrors.NewValidationError("customer", "No billing account found for this user")
	}
	url, err := s.gateway.CreatePortalSession(ctx, *user.StripeCustomerID, s.siteURL+"/dashboard")
	if err != nil {
		return "", providerError(err)
	}
	return url, nil
}

func (s *billingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	if !s.gateway.WebhookConfigured() {
		return nil, apierrors.NewConfigurationError("Webhook secret is not configured")
	}

	ev, err := s.gateway.ParseWebhook(payload, signature)
	if errors.Is(err, payments.ErrUndecodableEvent) {
		result := &WebhookResult{Outcome: OutcomeFailed}
		if ev != nil {
			result.EventID, result.Type = ev.ID, string(ev.Kind)
		}
		s.logger.Error("webhook event could not be decoded",
			slog.String("event_id", result.EventID),
			slog.String("type", result.Type),
			slog.String("error", err.Error()),
		)
		webhookEventsTotal.WithLabelValues(result.Type, string(OutcomeFailed)).Inc()
		return result, nil
	}
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSecretMissing) {
			return nil, apierrors.NewConfigurationError("Webhook secret is not configured")
		}
		s.logger.Warn("webhook rejected", slog.String("error", err.Error()))
		return nil, ErrInvalidSignature.Wrap(err)
	}

	result := &WebhookResult{EventID: ev.ID, Type: string(ev.Kind)}
	outcome, err := s.ApplyEvent(ctx, ev)
	if err != nil {
		// The delivery is still acknowledged; retrying would not help.
		s.logger.Error("webhook event failed",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
		outcome = OutcomeFailed
	}
	result.Outcome = outcome
	webhookEventsTotal.WithLabelValues(string(ev.Kind), string(outcome)).Inc()
	return result, nil
}

func (s *billingService) ApplyEvent(ctx context.Context, ev *billing.Event) (WebhookOutcome, error) {
	switch ev.Kind {
	case billing.EventCheckoutCompleted, billing.EventSubscriptionUpdated,
		billing.EventSubscriptionDeleted, billing.EventPaymentFailed:
	default:
		return OutcomeIgnored, nil
	}
	if ev.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	user, err := s.users.GetByStripeCustomer(ctx, ev.CustomerID)
	if err != nil {
		return "", fmt.Errorf("lookup customer: %w", err)
	}
	if user == nil {
		s.logger.Info("webhook for unknown customer ignored",
			slog.String("event_id", ev.ID),
			slog.String("customer_id", ev.CustomerID),
		)
		return OutcomeUnknownCustomer, nil
	}

	applied := *ev
	if applied.Plan == "" && applied.PriceID != "" {
		if key, ok := s.catalog.PlanForPrice(applied.PriceID); ok {
			applied.Plan = key
		}
	}

	next, ok := billing.Transition(user.Subscription(), applied, s.catalog.DefaultPlan())
	if !ok {
		return OutcomeIgnored, nil
	}
	found, err := s.users.SetSubscriptionByCustomer(ctx, ev.CustomerID, next)
	if err != nil {
		return "", fmt.Errorf("update subscription: %w", err)
	}
	if !found {
		return OutcomeUnknownCustomer, nil
	}
	user.SubscriptionStatus, user.SubscriptionPlan = next.Status, next.Plan

	if ev.Kind != billing.EventCheckoutCompleted && ev.Kind != billing.EventPaymentFailed {
		return OutcomeApplied, nil
	}

	if ev.ID != "" && s.ledger != nil {
		first, err := s.ledger.MarkProcessed(ctx, ev.ID)
		if err != nil {
			s.logger.Warn("event ledger unavailable", slog.String("error", err.Error()))
		} else if !first {
			return OutcomeDuplicate, nil
		}
	}

	s.notify(ctx, user, &applied)
	return OutcomeApplied, nil
}

// notify sends the email tied to ev. Delivery failures are logged only.
func (s *billingService) notify(ctx context.Context, user *models.User, ev *billing.Event) {
	planName := ""
	if user.SubscriptionPlan != nil {
		planName = s.catalog.DisplayName(*user.SubscriptionPlan)
	}

	var err error
	switch ev.Kind {
	case billing.EventCheckoutCompleted:
		periodEnd := ev.PeriodEnd
		if periodEnd.IsZero() && ev.SubscriptionID != "" {
			periodEnd, err = s.gateway.SubscriptionPeriodEnd(ctx, ev.SubscriptionID)
			if err != nil {
				s.logger.Warn("could not read subscription period",
					slog.String("subscription_id", ev.SubscriptionID),
					slog.String("error", err.Error()),
				)
			}
		}
		err = s.notifier.SendSubscriptionConfirmed(ctx, user, planName, ev.AmountTotal, ev.Currency, periodEnd)
	case billing.EventPaymentFailed:
		err = s.notifier.SendPaymentFailed(ctx, user, planName)
	}
	if err != nil {
		s.logger.Error("billing notification failed",
			slog.String("event_id", ev.ID),
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// providerError maps gateway failures onto the error taxonomy.
func providerError(err error) error {
	if errors.Is(err, payments.ErrNotConfigured) {
		return apierrors.NewConfigurationError("Payments are not configured")
	}
	if apierrors.IsAPIError(err) {
		return err
	}
	return apierrors.NewUpstreamError("stripe", err)
}

// Compile-time check to ensure billingService implements BillingService.
var _ BillingService = (*billingService)(nil)
