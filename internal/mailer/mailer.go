// Package mailer sends outbound email over SMTP. The auth flow uses it for
// password reset links; delivery is best-effort from the caller's point of
// view and failures are logged, never surfaced to the end user.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/castlewood/storefront/internal/config"
)

// Mailer is the interface the rest of the application sends mail through.
type Mailer interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
	IsConfigured() bool
}

// smtpMailer implements Mailer on top of net/smtp with the transport mode
// (starttls, ssl, none) selected by configuration.
type smtpMailer struct {
	cfg config.SMTPConfig
}

// New creates a Mailer from the given SMTP settings.
func New(cfg config.SMTPConfig) Mailer {
	return &smtpMailer{cfg: cfg}
}

// IsConfigured returns true if an SMTP host is set. When false, callers
// should skip sending and log instead.
func (m *smtpMailer) IsConfigured() bool {
	return m.cfg.Host != ""
}

// SendMail sends a plain-text email to the given recipients.
func (m *smtpMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("smtp is not configured")
	}

	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromAddress}
	msg := buildMessage(from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	switch m.cfg.Encryption {
	case "ssl":
		return m.sendSSL(addr, from.Address, to, msg)
	case "none":
		return m.sendPlain(addr, from.Address, to, msg)
	default: // "starttls"
		return m.sendStartTLS(addr, from.Address, to, msg)
	}
}

// buildMessage assembles an RFC 2822 plain-text message.
func buildMessage(from mail.Address, to []string, subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// sendStartTLS sends email using STARTTLS (port 587 typical).
func (m *smtpMailer) sendStartTLS(addr, from string, to []string, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}

	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	return m.sendMessage(client, from, to, msg)
}

// sendSSL sends email using implicit SSL/TLS (port 465 typical).
func (m *smtpMailer) sendSSL(addr, from string, to []string, msg string) error {
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to %s (SSL): %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	return m.sendMessage(client, from, to, msg)
}

// sendPlain sends email without encryption.
func (m *smtpMailer) sendPlain(addr, from string, to []string, msg string) error {
	var auth gosmtp.Auth
	if m.cfg.Username != "" {
		auth = gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := gosmtp.SendMail(addr, auth, from, to, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an existing SMTP client.
func (m *smtpMailer) sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}
