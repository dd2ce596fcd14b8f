// Package notify delivers lifecycle emails to citizens.
//
// Delivery is best effort. A Sender reports success as a bool and never
// returns an error, and the Dispatcher runs sends on background workers so
// the operation that triggered a notification never waits on, or fails
// because of, the mail transport.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) bool
}

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to attempt SMTP delivery.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// SMTPSender sends HTML email over an authenticated SMTP session.
type SMTPSender struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	logger *slog.Logger
}

// NewSMTPSender creates an SMTPSender. Auth is skipped when no username is
// configured, for local relays such as MailHog.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{cfg: cfg, auth: auth, logger: logger}
}

// Send makes a single delivery attempt and reports whether it succeeded.
//
// On failure the recipient and subject are logged so an operator can
// follow up by hand. The SMTP connection carries ctx's deadline and is
// closed when ctx is cancelled, so an abandoned attempt does not linger.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logFailure(to, subject, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(body)

	if err := s.deliver(ctx, e, to); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		s.logFailure(to, subject, err)
		return false
	}

	s.logger.Info("email sent", slog.String("recipient", to), slog.String("subject", subject))
	return true
}

// deliver runs one SMTP session over a connection bound to ctx. It follows
// the same steps as smtp.SendMail: STARTTLS and AUTH when the server offers
// them, then MAIL, RCPT and DATA.
func (s *SMTPSender) deliver(ctx context.Context, e *email.Email, to string) error {
	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return fmt.Errorf("parsing sender address: %w", err)
	}
	raw, err := e.Bytes()
	if err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("dialing smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("setting connection deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(from.Address); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) logFailure(to, subject string, err error) {
	s.logger.Error("failed to send email",
		slog.String("recipient", to),
		slog.String("subject", subject),
		slog.String("error", err.Error()),
	)
}

// LogSender writes messages to the log instead of sending them. It is used
// when SMTP is not configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) bool {
	s.logger.Info("email (not sent, SMTP disabled)",
		slog.String("recipient", to),
		slog.String("subject", subject),
		slog.Int("bodyBytes", len(body)),
	)
	return true
}
