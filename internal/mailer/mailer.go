// Package mailer wraps the SMTP transport used by scripts that notify
// operators or users. Transport-level failures surface as errors; the caller
// decides whether a failed notification is fatal for the run.
package mailer

import (
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/hpcops/sentinel/internal/config"
	"github.com/hpcops/sentinel/internal/logging"
)

// Mailer sends plain-text mail through a fixed SMTP relay.
type Mailer struct {
	cfg    config.MailConfig
	dryRun bool
}

// New returns a mailer for the given transport configuration. With dryRun set
// messages are logged instead of sent.
func New(cfg config.MailConfig, dryRun bool) *Mailer {
	return &Mailer{cfg: cfg, dryRun: dryRun}
}

// SendText sends a plain-text message to the given recipients.
func (m *Mailer) SendText(recipients []string, subject, body string) error {
	if m.dryRun {
		logging.Op().Info("dry run, not sending mail", "to", recipients, "subject", subject)
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("mailer: invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(recipients...); err != nil {
		return fmt.Errorf("mailer: invalid recipients %v: %w", recipients, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("mailer: connect %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}

	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("mailer: send via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	logging.Op().Info("sent mail", "to", recipients, "subject", subject)
	return nil
}
