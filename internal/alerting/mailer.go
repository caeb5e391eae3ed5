package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mailer delivers one HTML message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPOptions configure SMTPMailer.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	// StartTLS upgrades the connection when the server offers it.
	StartTLS bool
}

// SMTPMailer sends mail through an SMTP relay, one connection per message.
type SMTPMailer struct {
	opts   SMTPOptions
	logger zerolog.Logger
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(opts SMTPOptions, logger zerolog.Logger) *SMTPMailer {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &SMTPMailer{opts: opts, logger: logger.With().Str("component", "mail_smtp").Logger()}
}

// Send delivers the message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	addr := net.JoinHostPort(m.opts.Host, fmt.Sprintf("%d", m.opts.Port))
	dialer := net.Dialer{Timeout: m.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	deadline := time.Now().Add(m.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.opts.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.opts.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if m.opts.Username != "" {
		auth := smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.opts.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt %s: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.opts.From, to, subject, htmlBody)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		m.logger.Debug().Err(err).Msg("smtp quit failed after delivery")
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b bytes.Buffer
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return b.Bytes()
}

// HTTPMailer posts messages to a JSON mail relay.
type HTTPMailer struct {
	endpoint string
	token    string
	from     string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPMailer constructs an HTTP relay mailer.
func NewHTTPMailer(endpoint, token, from string, timeout time.Duration, logger zerolog.Logger) *HTTPMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMailer{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		from:     from,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "mail_http").Logger(),
	}
}

// Send posts one message to the relay.
func (h *HTTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload := map[string]string{
		"from":    h.from,
		"to":      to,
		"subject": subject,
		"html":    htmlBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay status %d", resp.StatusCode)
	}

	var result struct {
		OK *bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.OK != nil && !*result.OK {
		return fmt.Errorf("mail relay returned ok=false")
	}

	h.logger.Debug().Str("to", to).Msg("mail accepted by relay")
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*HTTPMailer)(nil)
)
