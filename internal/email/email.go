// Package email renders and delivers transactional email.
package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/gomail.v2"

	"github.com/wangwalk/tanstack-start-dev/internal/config"
)

var emailsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "saas_emails_total",
		Help: "Transactional emails by template and outcome",
	},
	[]string{"template", "outcome"},
)

// Result reports the outcome of a send. Failures carry a message instead of
// an error so callers can log and move on.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sender renders a template with props and dispatches it.
type Sender interface {
	Send(ctx context.Context, to string, tmpl Template, props any) Result
}

// Envelope is a fully rendered message ready for delivery.
type Envelope struct {
	MessageID string
	From      string
	To        string
	Subject   string
	HTML      string
}

// Transport delivers rendered envelopes.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
}

type sender struct {
	transport Transport
	from      string
	domain    string
	logger    *slog.Logger
}

// NewSender creates a Sender that renders templates and hands them to transport.
func NewSender(cfg config.EmailConfig, transport Transport, logger *slog.Logger) Sender {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	domain := "localhost"
	if i := strings.LastIndex(cfg.FromEmail, "@"); i >= 0 && i < len(cfg.FromEmail)-1 {
		domain = cfg.FromEmail[i+1:]
	}
	return &sender{transport: transport, from: from, domain: domain, logger: logger}
}

func (s *sender) Send(ctx context.Context, to string, tmpl Template, props any) Result {
	if to == "" {
		return Result{Error: "recipient is required"}
	}

	subject, component, err := Render(tmpl, props)
	if err != nil {
		return Result{Error: err.Error()}
	}

	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return Result{Error: fmt.Sprintf("render %s: %v", tmpl, err)}
	}

	env := Envelope{
		MessageID: fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain),
		From:      s.from,
		To:        to,
		Subject:   subject,
		HTML:      buf.String(),
	}
	if err := s.transport.Deliver(ctx, env); err != nil {
		emailsTotal.WithLabelValues(string(tmpl), "failed").Inc()
		s.logger.Error("email delivery failed",
			slog.String("template", string(tmpl)),
			slog.String("error", err.Error()),
		)
		return Result{Error: err.Error()}
	}

	emailsTotal.WithLabelValues(string(tmpl), "sent").Inc()
	s.logger.Info("email sent",
		slog.String("template", string(tmpl)),
		slog.String("message_id", env.MessageID),
	)
	return Result{Success: true, ID: env.MessageID}
}

// SMTPTransport delivers mail through an SMTP relay.
type SMTPTransport struct {
	dialer *gomail.Dialer
}

// NewSMTPTransport creates a transport for the configured relay.
func NewSMTPTransport(cfg config.EmailConfig) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
}

// Deliver sends env over SMTP.
func (t *SMTPTransport) Deliver(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", env.MessageID)
	m.SetHeader("From", env.From)
	m.SetHeader("To", env.To)
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/html", env.HTML)

	return t.dialer.DialAndSend(m)
}

// LogTransport writes envelopes to the log instead of sending them. Used when
// no SMTP relay is configured.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a transport that only logs.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Deliver logs the envelope headers.
func (t *LogTransport) Deliver(_ context.Context, env Envelope) error {
	t.logger.Info("email delivery skipped (no SMTP relay configured)",
		slog.String("to", env.To),
		slog.String("subject", env.Subject),
		slog.Int("bytes", len(env.HTML)),
	)
	return nil
}

// NewTransport picks the SMTP transport when a relay is configured and the
// log transport otherwise.
func NewTransport(cfg config.EmailConfig, logger *slog.Logger) Transport {
	if cfg.Enabled() {
		return NewSMTPTransport(cfg)
	}
	return NewLogTransport(logger)
}

// Compile-time check to ensure sender implements Sender.
var _ Sender = (*sender)(nil)
