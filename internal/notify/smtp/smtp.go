// Package smtp sends notification email over SMTP.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

// Config is the SMTP relay configuration.
type Config struct {
	Addr     string
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

var _ notify.Mailer = (*Mailer)(nil)

// Mailer delivers one message per connection.
type Mailer struct {
	cfg Config
	now func() time.Time
}

// New creates a Mailer.
func New(cfg Config) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Mailer{cfg: cfg, now: time.Now}
}

// Send delivers e. STARTTLS is used when the server offers it, and
// authentication only when a username is configured.
func (m *Mailer) Send(ctx context.Context, e notify.Email) error {
	host, _, err := net.SplitHostPort(m.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "parse smtp addr")
	}

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "dial smtp")
	}
	deadline := m.now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "set deadline")
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return errors.Wrap(err, "mail from")
	}
	if err := c.Rcpt(e.To); err != nil {
		return errors.Wrapf(err, "rcpt %s", e.To)
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "data")
	}
	if _, err := w.Write(m.message(e)); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "write message")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finish message")
	}
	return errors.Wrap(c.Quit(), "quit")
}

func (m *Mailer) message(e notify.Email) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(e.Body, "\n", "\r\n"))
	return []byte(b.String())
}
