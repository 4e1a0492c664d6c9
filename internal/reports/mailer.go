package reports

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/crmhub/crmhub/internal/config"
)

// Message is a rendered report email.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers report emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends through an authenticated SMTP submission server.
type SMTPMailer struct {
	from   string
	client *mail.Client
}

// NewSMTPMailer creates an SMTPMailer. Missing SMTP settings return ErrMissingEnv.
func NewSMTPMailer(cfg config.ReportsConfig) (*SMTPMailer, error) {
	if err := cfg.RequireSMTP(); err != nil {
		return nil, err
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTP.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTP.Username),
		mail.WithPassword(cfg.SMTP.Password),
		mail.WithTimeout(cfg.SMTP.Timeout),
	}
	if cfg.SMTP.TLS {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{from: cfg.From, client: client}, nil
}

// Send builds a multipart text/HTML message and delivers it.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		out.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

var _ Mailer = (*SMTPMailer)(nil)
