package billing

import (
	"time"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

// EventKind is a provider event type the state machine understands.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.session.completed"
	EventSubscriptionUpdated EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
	EventPaymentFailed       EventKind = "invoice.payment_failed"
)

// Event is a decoded provider notification. Only CustomerID is guaranteed;
// the other fields are set where the event carries them.
type Event struct {
	ID             string
	Kind           EventKind
	CustomerID     string
	Plan           string
	PriceID        string
	SubscriptionID string
	ProviderStatus string
	AmountTotal    int64
	Currency       string
	PeriodEnd      time.Time
}

// MapProviderStatus folds the provider's subscription statuses onto the
// three statuses a user can hold.
func MapProviderStatus(status string) models.SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return models.SubscriptionActive
	case "canceled", "incomplete_expired":
		return models.SubscriptionCanceled
	default:
		// past_due, unpaid, incomplete, paused
		return models.SubscriptionPastDue
	}
}

// Transition returns the state a user moves to when ev is applied to cur.
// Every transition assigns fields outright, so applying an event twice is
// the same as applying it once and the last applied event wins. The second
// result is false for event kinds that do not affect subscription state.
//
// fallbackPlan fills the plan when a transition into a paid status has
// neither a current plan nor one on the event.
func Transition(cur models.SubscriptionState, ev Event, fallbackPlan string) (models.SubscriptionState, bool) {
	switch ev.Kind {
	case EventCheckoutCompleted:
		plan := ev.Plan
		if plan == "" {
			plan = fallbackPlan
		}
		return paid(models.SubscriptionActive, plan), true

	case EventSubscriptionUpdated:
		status := MapProviderStatus(ev.ProviderStatus)
		if status == models.SubscriptionCanceled {
			return canceled(), true
		}
		return paid(status, keepPlan(cur, ev, fallbackPlan)), true

	case EventSubscriptionDeleted:
		return canceled(), true

	case EventPaymentFailed:
		return paid(models.SubscriptionPastDue, keepPlan(cur, ev, fallbackPlan)), true
	}
	return cur, false
}

func keepPlan(cur models.SubscriptionState, ev Event, fallbackPlan string) string {
	if cur.Plan != nil && *cur.Plan != "" {
		return *cur.Plan
	}
	if ev.Plan != "" {
		return ev.Plan
	}
	return fallbackPlan
}

func paid(status models.SubscriptionStatus, plan string) models.SubscriptionState {
	return models.SubscriptionState{Status: &status, Plan: &plan}
}

func canceled() models.SubscriptionState {
	status := models.SubscriptionCanceled
	return models.SubscriptionState{Status: &status}
}
