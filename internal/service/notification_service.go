package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wangwalk/tanstack-start-dev/internal/email"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

// NotificationService sends the transactional emails of the account and
// billing flows. Every method returns an UpstreamError when delivery fails.
type NotificationService interface {
	SendWelcome(ctx context.Context, user *models.User) error
	SendVerification(ctx context.Context, user *models.User, token string) error
	SendPasswordReset(ctx context.Context, user *models.User, token string, expiresIn time.Duration) error
	SendSubscriptionConfirmed(ctx context.Context, user *models.User, planName string, amountCents int64, currency string, nextBilling time.Time) error
	SendPaymentFailed(ctx context.Context, user *models.User, planName string) error
}

type notificationService struct {
	sender  email.Sender
	siteURL string
	logger  *slog.Logger
}

// NewNotificationService creates a notification service that builds links
// against siteURL.
func NewNotificationService(sender email.Sender, siteURL string, logger *slog.Logger) NotificationService {
	return &notificationService{
		sender:  sender,
		siteURL: strings.TrimRight(siteURL, "/"),
		logger:  logger,
	}
}

func (s *notificationService) SendWelcome(ctx context.Context, user *models.User) error {
	return s.send(ctx, user, email.TemplateWelcome, email.WelcomeProps{
		Name:         user.Name,
		DashboardURL: s.siteURL + "/dashboard",
	})
}

func (s *notificationService) SendVerification(ctx context.Context, user *models.User, token string) error {
	return s.send(ctx, user, email.TemplateVerifyEmail, email.VerifyEmailProps{
		Name:      user.Name,
		VerifyURL: s.siteURL + "/api/auth/verify-email?token=" + token,
	})
}

func (s *notificationService) SendPasswordReset(ctx context.Context, user *models.User, token string, expiresIn time.Duration) error {
	return s.send(ctx, user, email.TemplateResetPassword, email.ResetPasswordProps{
		Name:      user.Name,
		ResetURL:  s.siteURL + "/reset-password?token=" + token,
		ExpiresIn: humanDuration(expiresIn),
	})
}

func (s *notificationService) SendSubscriptionConfirmed(ctx context.Context, user *models.User, planName string, amountCents int64, currency string, nextBilling time.Time) error {
	props := email.SubscriptionConfirmedProps{
		Name:         user.Name,
		PlanName:     planName,
		DashboardURL: s.siteURL + "/dashboard",
	}
	if amountCents > 0 {
		props.Amount = FormatAmount(amountCents, currency)
	}
	if !nextBilling.IsZero() {
		props.NextBillingDate = nextBilling.Format("January 2, 2006")
	}
	return s.send(ctx, user, email.TemplateSubscriptionConfirmed, props)
}

func (s *notificationService) SendPaymentFailed(ctx context.Context, user *models.User, planName string) error {
	return s.send(ctx, user, email.TemplatePaymentFailed, email.PaymentFailedProps{
		Name:       user.Name,
		PlanName:   planName,
		BillingURL: s.siteURL + "/dashboard/billing",
	})
}

func (s *notificationService) send(ctx context.Context, user *models.User, tmpl email.Template, props any) error {
	res := s.sender.Send(ctx, user.Email, tmpl, props)
	if !res.Success {
		s.logger.Warn("notification not delivered",
			slog.String("template", string(tmpl)),
			slog.String("user_id", user.ID.String()),
			slog.String("error", res.Error),
		)
		return apierrors.NewUpstreamError("email", errors.New(res.Error))
	}
	return nil
}

// FormatAmount renders an amount in minor units, e.g. 2900 usd as $29.00.
func FormatAmount(cents int64, currency string) string {
	whole := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	switch strings.ToLower(currency) {
	case "", "usd":
		return "$" + whole
	case "eur":
		return "€" + whole
	case "gbp":
		return "£" + whole
	default:
		return whole + " " + strings.ToUpper(currency)
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
}

// Compile-time check to ensure notificationService implements NotificationService.
var _ NotificationService = (*notificationService)(nil)
