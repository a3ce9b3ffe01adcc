package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's authorization level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// SubscriptionStatus mirrors the billing state of a user. A nil status means
// the free tier.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// IsValid reports whether s is a known subscription status.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}

// User represents a user account.
type User struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	Email              string              `json:"email" db:"email"`
	Name               string              `json:"name" db:"name"`
	Image              *string             `json:"image,omitempty" db:"image"`
	PasswordHash       *string             `json:"-" db:"password_hash"`
	EmailVerified      bool                `json:"email_verified" db:"email_verified"`
	Role               Role                `json:"role" db:"role"`
	Banned             bool                `json:"banned" db:"banned"`
	BanReason          *string             `json:"ban_reason,omitempty" db:"ban_reason"`
	BanExpires         *time.Time          `json:"ban_expires,omitempty" db:"ban_expires"`
	SubscriptionStatus *SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	SubscriptionPlan   *string             `json:"subscription_plan" db:"subscription_plan"`
	StripeCustomerID   *string             `json:"-" db:"stripe_customer_id"`
	OAuthProvider      *string             `json:"oauth_provider,omitempty" db:"oauth_provider"`
	OAuthProviderID    *string             `json:"-" db:"oauth_provider_id"`
	LastLoginAt        *time.Time          `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at"`
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsBanned reports whether a ban is in force at now. A ban whose expiry has
// passed no longer applies.
func (u *User) IsBanned(now time.Time) bool {
	if !u.Banned {
		return false
	}
	return u.BanExpires == nil || u.BanExpires.After(now)
}

// Entitled reports whether the user currently has paid access.
func (u *User) Entitled() bool {
	if u.SubscriptionStatus == nil {
		return false
	}
	s := *u.SubscriptionStatus
	return s == SubscriptionActive || s == SubscriptionPastDue
}

// Subscription returns the billing state of the user.
func (u *User) Subscription() SubscriptionState {
	return SubscriptionState{Status: u.SubscriptionStatus, Plan: u.SubscriptionPlan}
}

// SubscriptionState is the (status, plan) pair driven by billing events.
type SubscriptionState struct {
	Status *SubscriptionStatus `json:"status"`
	Plan   *string             `json:"plan"`
}

// IsFree reports whether no subscription has ever been recorded.
func (s SubscriptionState) IsFree() bool {
	return s.Status == nil && s.Plan == nil
}

// Equal compares two states by value.
func (s SubscriptionState) Equal(o SubscriptionState) bool {
	return equalPtr(s.Status, o.Status) && equalPtr(s.Plan, o.Plan)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// UserFilter selects users in the admin console.
type UserFilter struct {
	Search string
	// Status is one of active, past_due, canceled, free, banned or empty.
	Status  string
	Page    int
	PerPage int
}

// UserStats summarises the user base for the admin dashboard.
type UserStats struct {
	TotalUsers        int64 `json:"total_users"`
	Admins            int64 `json:"admins"`
	Banned            int64 `json:"banned"`
	ActiveSubscribers int64 `json:"active_subscribers"`
	PastDue           int64 `json:"past_due"`
	NewLast30Days     int64 `json:"new_last_30_days"`
}
