package email

import (
	"fmt"

	"github.com/a-h/templ"
)

//go:generate templ generate

// Template identifies a transactional email.
type Template string

const (
	TemplateWelcome               Template = "welcome"
	TemplateVerifyEmail           Template = "verify-email"
	TemplateResetPassword         Template = "reset-password"
	TemplateSubscriptionConfirmed Template = "subscription-confirmed"
	TemplatePaymentFailed         Template = "payment-failed"
)

// WelcomeProps are the props for TemplateWelcome.
type WelcomeProps struct {
	Name         string
	DashboardURL string
}

// VerifyEmailProps are the props for TemplateVerifyEmail.
type VerifyEmailProps struct {
	Name      string
	VerifyURL string
}

// ResetPasswordProps are the props for TemplateResetPassword.
type ResetPasswordProps struct {
	Name      string
	ResetURL  string
	ExpiresIn string
}

// SubscriptionConfirmedProps are the props for TemplateSubscriptionConfirmed.
type SubscriptionConfirmedProps struct {
	Name            string
	PlanName        string
	Amount          string
	NextBillingDate string
	DashboardURL    string
}

// PaymentFailedProps are the props for TemplatePaymentFailed.
type PaymentFailedProps struct {
	Name       string
	PlanName   string
	BillingURL string
}

// Render resolves a template and its props into a subject line and body
// component. The props type must match the template.
func Render(tmpl Template, props any) (string, templ.Component, error) {
	switch tmpl {
	case TemplateWelcome:
		p, ok := props.(WelcomeProps)
		if !ok {
			return "", nil, propsError(tmpl, props)
		}
		return "Welcome aboard", welcomeEmail(p), nil
	case TemplateVerifyEmail:
		p, ok := props.(VerifyEmailProps)
		if !ok {
			return "", nil, propsError(tmpl, props)
		}
		return "Verify your email address", verifyEmail(p), nil
	case TemplateResetPassword:
		p, ok := props.(ResetPasswordProps)
		if !ok {
			return "", nil, propsError(tmpl, props)
		}
		return "Reset your password", resetPasswordEmail(p), nil
	case TemplateSubscriptionConfirmed:
		p, ok := props.(SubscriptionConfirmedProps)
		if !ok {
			return "", nil, propsError(tmpl, props)
		}
		return "Subscription confirmed", subscriptionConfirmedEmail(p), nil
	case TemplatePaymentFailed:
		p, ok := props.(PaymentFailedProps)
		if !ok {
			return "", nil, propsError(tmpl, props)
		}
		return "Payment failed — action required", paymentFailedEmail(p), nil
	default:
		return "", nil, fmt.Errorf("unknown email template %q", tmpl)
	}
}

func propsError(tmpl Template, props any) error {
	return fmt.Errorf("email template %q: unexpected props type %T", tmpl, props)
}
