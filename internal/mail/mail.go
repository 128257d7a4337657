// Package mail delivers one-time codes by email. Delivery is best effort;
// failures are logged by callers, never propagated to users.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Mailer dispatches a single message to an address.
type Mailer interface {
	Dispatch(ctx context.Context, to, subject, body string) error
}

// SMTPConfig configures the SMTP-backed mailer. Implicit TLS is assumed
// (port 465 style endpoints).
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether credentials are present.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// SMTPMailer sends mail over SMTP with implicit TLS.
type SMTPMailer struct {
	cfg SMTPConfig

	// tlsConfig overrides the dialer's TLS configuration; tests only.
	tlsConfig *tls.Config
}

// NewSMTPMailer constructs a mailer for the provided SMTP endpoint.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) Dispatch(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: m.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}

	// The context only bounds the dial; carry its deadline over so the
	// greeting, AUTH, and DATA exchanges cannot stall indefinitely.
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("set smtp deadline: %w", err)
		}
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.cfg.From, to, subject, body)
	if _, err := writer.Write([]byte(message)); err != nil {
		writer.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

// NoopMailer logs dispatches instead of sending them. Used when SMTP
// credentials are not configured and in tests.
type NoopMailer struct {
	Logger *slog.Logger
}

func (m *NoopMailer) Dispatch(_ context.Context, to, subject, _ string) error {
	if m.Logger != nil {
		m.Logger.Info("mail dispatch skipped", "to", to, "subject", subject)
	}
	return nil
}
