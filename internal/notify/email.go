// Package notify provides notification services for capture sessions.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/reccapture/recc/internal/config"
	"github.com/reccapture/recc/internal/util"
)

// SessionReport describes a finished capture session.
type SessionReport struct {
	Target    string
	Output    string
	Duration  time.Duration
	DataBytes uint64
	Err       error
}

// SendSessionReport mails a short report when a session ends. It silently
// skips when mail is not configured.
func SendSessionReport(cfg *config.EmailConfig, report SessionReport) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil
	}

	subject := "[OK] Capture Finished - recc"
	outcome := "The capture session finished cleanly."
	if report.Err != nil {
		subject = "[FAILED] Capture Aborted - recc"
		outcome = fmt.Sprintf("The capture session failed: %v", report.Err)
	}

	body := fmt.Sprintf(
		"%s\n\n"+
			"Target:   %s\n"+
			"Output:   %s\n"+
			"Duration: %s\n"+
			"Piped:    %d bytes\n"+
			"Time:     %s\n",
		outcome, report.Target, report.Output,
		report.Duration.Round(time.Second), report.DataBytes, util.RFC3339Now(),
	)

	return sendEmail(cfg, subject, body)
}

// sendEmail delivers an email message to configured recipients.
func sendEmail(cfg *config.EmailConfig, subject, body string) error {
	var recipients []string
	for _, r := range strings.Split(cfg.Recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	m := mail.NewMsg()
	if cfg.FromName != "" {
		if err := m.FromFormat(cfg.FromName, cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	} else {
		if err := m.From(cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	}
	if err := m.To(recipients...); err != nil {
		return util.WrapError("set recipient address", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	// Build client options with port-appropriate TLS settings
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}

	switch cfg.Port {
	case 465: // SMTPS - implicit TLS
		opts = append(opts, mail.WithSSL())
	case 587: // Submission - STARTTLS required
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default: // Port 25 or custom - opportunistic TLS
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return util.WrapError("create SMTP client", err)
	}

	if err := c.DialAndSend(m); err != nil {
		return util.WrapError("send email", err)
	}

	return nil
}
