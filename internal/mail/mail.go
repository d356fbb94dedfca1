// Package mail delivers account and ticket notification emails.
package mail

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/Geniusmania/ticket-chat-system/internal/config"
)

// Mailer sends the application's outbound emails.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
	SendReplyNotice(ctx context.Context, to, name, ticketTitle, preview, link string) error
}

// Message is one rendered email.
type Message struct {
	To        string
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Sender transmits a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	from   string
	dialer *gomail.Dialer
}

// NewSMTPSender builds a sender from config.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.PlainBody)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// LogSender only logs messages. It is used when no SMTP host is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a logging sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("mail")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email not sent, smtp disabled",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.PlainBody),
	)
	return nil
}

// NewSender picks SMTP delivery when a host is configured.
func NewSender(cfg config.MailConfig, logger *zap.Logger) Sender {
	if cfg.Host == "" {
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg)
}

// Service renders templates and hands them to a Sender.
type Service struct {
	sender  Sender
	appName string
}

// NewService builds the mailer.
func NewService(sender Sender, appName string) *Service {
	if appName == "" {
		appName = "Support"
	}
	return &Service{sender: sender, appName: appName}
}

func (s *Service) SendVerification(ctx context.Context, to, name, link string) error {
	return s.sender.Send(ctx, Message{
		To:      to,
		Subject: "Verify your email address",
		PlainBody: fmt.Sprintf("Hi %s,\n\nWelcome to %s. Confirm your email address by visiting:\n%s\n\nIf you did not create an account you can ignore this email.\n",
			name, s.appName, link),
		HTMLBody: fmt.Sprintf(`<p>Hi %s,</p><p>Welcome to %s. <a href="%s">Confirm your email address</a>.</p>`,
			html.EscapeString(name), html.EscapeString(s.appName), link),
	})
}

func (s *Service) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return s.sender.Send(ctx, Message{
		To:      to,
		Subject: "Reset your password",
		PlainBody: fmt.Sprintf("Hi %s,\n\nWe received a request to reset your password. Visit the link below to choose a new one:\n%s\n\nIf you did not ask for this, your password stays unchanged.\n",
			name, link),
		HTMLBody: fmt.Sprintf(`<p>Hi %s,</p><p><a href="%s">Reset your password</a>.</p><p>If you did not ask for this, your password stays unchanged.</p>`,
			html.EscapeString(name), link),
	})
}

func (s *Service) SendReplyNotice(ctx context.Context, to, name, ticketTitle, preview, link string) error {
	return s.sender.Send(ctx, Message{
		To:      to,
		Subject: fmt.Sprintf("New reply on \"%s\"", ticketTitle),
		PlainBody: fmt.Sprintf("Hi %s,\n\nSupport replied to your ticket \"%s\":\n\n%s\n\nView the conversation: %s\n",
			name, ticketTitle, preview, link),
	})
}

// WithToken appends token as a query parameter to base.
func WithToken(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
