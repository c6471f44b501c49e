// Package mailer is the outbound email capability port. Sends are best
// effort everywhere they are used: a failed email never fails the request
// that triggered it.
package mailer

import (
	"context"
	"log/slog"

	gomail "gopkg.in/gomail.v2"
)

// Email is one templated message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer is the capability port.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SMTP sends through a configured SMTP relay.
type SMTP struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// NewSMTP builds the production mailer.
func NewSMTP(host string, port int, user, pass, from string) *SMTP {
	return &SMTP{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
		logger: slog.With("component", "mailer"),
	}
}

func (s *SMTP) Send(ctx context.Context, e Email) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	if e.Text != "" {
		msg.SetBody("text/plain", e.Text)
		msg.AddAlternative("text/html", e.HTML)
	} else {
		msg.SetBody("text/html", e.HTML)
	}

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Noop discards all mail; used when no SMTP block is configured.
type Noop struct{}

func (Noop) Send(_ context.Context, e Email) error {
	slog.Debug("mailer disabled, dropping email", "to", e.To, "subject", e.Subject)
	return nil
}
