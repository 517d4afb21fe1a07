// Package alert evaluates enriched articles against the high-impact
// threshold and dispatches rate-limited email alerts.
package alert

import (
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/logging"
)

// Sender dispatches one alert email. Fire-and-forget from the evaluator's
// perspective: failures are logged, not retried.
type Sender interface {
	Send(subject, htmlBody, textBody string) error
}

// Mailer sends alert emails over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

// NewMailer builds a Mailer from alert config.
func NewMailer(cfg config.AlertConfig) *Mailer {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	dialer.Timeout = 10 * time.Second

	from := cfg.From
	if from == "" {
		from = cfg.SMTPUser
	}

	return &Mailer{dialer: dialer, from: from, to: cfg.To}
}

// Send dispatches one email with plain and HTML bodies.
func (m *Mailer) Send(subject, htmlBody, textBody string) error {
	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", m.to)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", textBody)
	message.AddAlternative("text/html", htmlBody)

	if err := m.dialer.DialAndSend(message); err != nil {
		return err
	}

	logging.Info("Alert email sent", "to", m.to, "subject", subject)
	return nil
}

// Recipient returns the configured recipient address.
func (m *Mailer) Recipient() string { return m.to }
