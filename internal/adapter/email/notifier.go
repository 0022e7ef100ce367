// Package email provides an SMTP-based notifier for incident notifications.
// The same notifier backs the "email" operations channel and the
// "authority" channel used for mandatory external reporting.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

// Notifier sends email notifications via SMTP.
type Notifier struct {
	name string
	cfg  SMTPConfig
	now  func() time.Time
}

// NewNotifier creates a new email notifier registered under name.
func NewNotifier(name string, cfg SMTPConfig) *Notifier {
	return &Notifier{name: name, cfg: cfg, now: time.Now}
}

func (n *Notifier) Name() string { return n.name }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send delivers the notification to every configured recipient.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", n.name, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%s: smtp handshake: %w", n.name, err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("%s: starttls: %w", n.name, err)
		}
	}
	if n.cfg.Password != "" {
		user := n.cfg.Username
		if user == "" {
			user = n.cfg.From
		}
		if err := c.Auth(smtp.PlainAuth("", user, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("%s: auth: %w", n.name, err)
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("%s: mail from: %w", n.name, err)
	}
	for _, rcpt := range n.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%s: rcpt %s: %w", n.name, rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%s: data: %w", n.name, err)
	}
	if _, err := w.Write(n.buildMessage(notification)); err != nil {
		return fmt.Errorf("%s: write body: %w", n.name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: close body: %w", n.name, err)
	}
	return c.Quit()
}

// buildMessage renders a plain-text RFC 5322 message.
func (n *Notifier) buildMessage(notification notifier.Notification) []byte {
	var b strings.Builder
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(levelOrInfo(notification.Level)), notification.Title)

	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	b.WriteString(notification.Message)
	b.WriteString("\r\n\r\n")
	if notification.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\r\n", notification.IncidentID)
	}
	if notification.Source != "" {
		fmt.Fprintf(&b, "Source: %s\r\n", notification.Source)
	}
	keys := make([]string, 0, len(notification.Fields))
	for k := range notification.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, notification.Fields[k])
	}
	return []byte(b.String())
}

func levelOrInfo(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// sanitizeHeader strips CR and LF so values cannot inject headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
