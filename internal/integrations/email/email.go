// Package email mails lead notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"offerbot/internal/integrations"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// From defaults to User.
	From string
	To   string
}

type Option func(*Notifier)

// WithTLSConfig overrides the STARTTLS configuration; nil disables STARTTLS.
func WithTLSConfig(cfg *tls.Config) Option { return func(n *Notifier) { n.tlsConfig = cfg } }
func WithDialer(d Dialer) Option           { return func(n *Notifier) { n.dialer = d } }
func WithAuth(a smtp.Auth) Option          { return func(n *Notifier) { n.auth = a } }
func WithNow(now func() time.Time) Option  { return func(n *Notifier) { n.now = now } }
func WithLogger(log logx.Logger) Option    { return func(n *Notifier) { n.log = log } }

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Notifier struct {
	host      string
	port      int
	from      string
	to        string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
	log       logx.Logger
}

func New(cfg Config, opts ...Option) (*Notifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("email: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("email: invalid port %d", cfg.Port)
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.User)
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("email: invalid from address %q", from)
	}
	if _, err := mail.ParseAddress(cfg.To); err != nil {
		return nil, fmt.Errorf("email: invalid recipient %q", cfg.To)
	}

	n := &Notifier{
		host:      cfg.Host,
		port:      cfg.Port,
		from:      from,
		to:        strings.TrimSpace(cfg.To),
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
	}
	if cfg.User != "" {
		n.auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	for _, o := range opts {
		o(n)
	}
	if n.log.IsZero() {
		n.log = logx.Nop()
	}
	n.log = n.log.With(logx.String("comp", "email"))
	return n, nil
}

func (n *Notifier) Name() string { return "email" }

func (n *Notifier) Notify(ctx context.Context, c storage.Confirmation) error {
	msg, err := n.Build(c)
	if err != nil {
		return err
	}
	if err := n.deliver(ctx, msg); err != nil {
		return err
	}
	n.log.Info("email sent", logx.String("email", c.Email), logx.String("to", n.to))
	return nil
}

// Build renders the complete RFC 5322 message for c.
func (n *Notifier) Build(c storage.Confirmation) ([]byte, error) {
	rows := fields(c)
	extra := integrations.PrettyAdditional(c)

	var text strings.Builder
	text.WriteString("Новое подтверждение оферты\n\n")
	for _, f := range rows {
		fmt.Fprintf(&text, "%s: %s\n", f.Label, f.Value)
	}
	if extra != "" {
		fmt.Fprintf(&text, "\nДополнительные данные:\n%s\n", extra)
	}

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, struct {
		Fields []field
		Extra  string
	}{rows, extra}); err != nil {
		return nil, fmt.Errorf("email: render: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", text.String()},
		{"text/html; charset=UTF-8", html.String()},
	} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", part.ctype)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := io.WriteString(qp, part.content); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	headers := [][2]string{
		{"From", n.from},
		{"To", n.to},
		{"Subject", mime.BEncoding.Encode("UTF-8", "Новое подтверждение оферты - "+c.PaymentType)},
		{"Date", n.now().UTC().Format(time.RFC1123Z)},
		{"Message-Id", "<" + uuid.NewString() + "@offerbot>"},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		buf.WriteString(h[0] + ": " + sanitizeHeader(h[1]) + "\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

type field struct {
	Label string
	Value string
}

func fields(c storage.Confirmation) []field {
	orNone := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "Не указан"
		}
		return s
	}
	return []field{
		{"Дата и время", c.ConfirmedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Имя", c.FirstName},
		{"Фамилия", c.LastName},
		{"Email", c.Email},
		{"Тип оплаты", c.PaymentType},
		{"IP адрес", orNone(c.IPAddress)},
		{"User Agent", orNone(c.UserAgent)},
	}
}

var htmlBody = template.Must(template.New("lead").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="background: #667eea; color: #fff; padding: 20px; border-radius: 8px 8px 0 0;">Новое подтверждение оферты</h2>
<div style="background: #f9f9f9; padding: 20px;">
{{range .Fields}}<p><b style="color: #667eea;">{{.Label}}:</b><br>{{.Value}}</p>
{{end}}{{if .Extra}}<p><b style="color: #667eea;">Дополнительные данные:</b></p><pre>{{.Extra}}</pre>
{{end}}</div>
<p style="font-size: 12px; color: #666;">Это автоматическое уведомление от системы обработки оферт.</p>
</div>
</body>
</html>
`))

func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(v, "\n", " "))
}

func (n *Notifier) deliver(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		return fmt.Errorf("email: new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("email: hello: %w", err)
	}
	if n.tlsConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(n.tlsConfig.Clone()); err != nil {
				return fmt.Errorf("email: starttls: %w", err)
			}
		}
	}
	if n.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(n.auth); err != nil {
				return fmt.Errorf("email: auth: %w", err)
			}
		}
	}
	from, _ := mail.ParseAddress(n.from)
	to, _ := mail.ParseAddress(n.to)
	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := client.Rcpt(to.Address); err != nil {
		return fmt.Errorf("email: rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("email: data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: data close: %w", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("email: quit: %w", err)
	}
	return ctx.Err()
}
