package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// Mailer delivers help desk notification mail over SMTP. When disabled it
// turns every send into a logged no-op, so the ticket flow never depends on
// a mail server being reachable.
type Mailer struct {
	cfg    *config.SMTPConfig
	client *mail.Client
	logger *logger.Logger
}

// New creates a mailer from the SMTP configuration
func New(cfg *config.SMTPConfig, log *logger.Logger) (*Mailer, error) {
	m := &Mailer{
		cfg:    cfg,
		logger: log.Named("mailer"),
	}

	if !cfg.Enabled || cfg.Host == "" {
		m.logger.Info("SMTP disabled, notification mail will not be sent")
		return m, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	m.client = client

	m.logger.Info("SMTP mailer initialized",
		String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		String("from", cfg.FromAddress))

	return m, nil
}

// Enabled reports whether mail will actually leave the process
func (m *Mailer) Enabled() bool {
	return m.client != nil
}

// ITAddress returns the staff mailbox that receives new-ticket notifications
func (m *Mailer) ITAddress() string {
	return m.cfg.ITAddress
}

// Send delivers a single plain-text message
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.client == nil {
		m.logger.Debug("Mail suppressed (SMTP disabled)",
			String("to", to),
			String("subject", subject))
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	m.logger.Debug("Mail sent",
		String("to", to),
		String("subject", subject))
	return nil
}
