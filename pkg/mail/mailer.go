package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

var (
	// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
	ErrSMTPDisabled = errors.New("smtp: delivery disabled")
	// ErrInvalidAddress marks a sender or recipient address that cannot be parsed.
	ErrInvalidAddress = errors.New("smtp: invalid address")
	// ErrConnect marks failures reaching or authenticating against the relay.
	ErrConnect = errors.New("smtp: connect")
)

// Message represents an outbound email. HTMLBody is optional; when present the
// message is sent as multipart/alternative with TextBody as the plain part.
type Message struct {
	From      string
	FromName  string
	To        []string
	ToName    string
	Subject   string
	TextBody  string
	HTMLBody  string
	MessageID string
	Headers   map[string]string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	UseTLS   bool
	Timeout  time.Duration
}

type dialFunc func() (gomail.SendCloser, error)

type smtpMailer struct {
	cfg  SMTPSettings
	dial dialFunc
}

// NewSMTPMailer builds a gomail backed Mailer. A disabled configuration yields
// a mailer that always returns ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if err := validateSMTPConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.UseTLS
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}

	return &smtpMailer{cfg: cfg, dial: dialer.Dial}, nil
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled {
		return ErrSMTPDisabled
	}

	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidAddress)
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.cfg.From
	}
	if from == "" {
		return errors.New("smtp: sender address is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return fmt.Errorf("%w: from %q: %v", ErrInvalidAddress, from, err)
	}
	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return fmt.Errorf("%w: recipient %q: %v", ErrInvalidAddress, rcpt, err)
		}
	}

	fromName := msg.FromName
	if fromName == "" {
		fromName = m.cfg.FromName
	}
	gm := buildMessage(from, fromName, recipients, msg)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	// gomail has no context support; the send runs aside and is abandoned on timeout.
	done := make(chan error, 1)
	go func() {
		done <- m.deliver(from, recipients, gm)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp: send: %w", ctx.Err())
	}
}

func (m *smtpMailer) deliver(from string, to []string, gm *gomail.Message) error {
	sc, err := m.dial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer sc.Close()

	if err := sc.Send(from, to, gm); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func buildMessage(from, fromName string, to []string, msg Message) *gomail.Message {
	gm := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	gm.SetAddressHeader("From", from, fromName)
	if len(to) == 1 && msg.ToName != "" {
		gm.SetAddressHeader("To", to[0], msg.ToName)
	} else {
		gm.SetHeader("To", to...)
	}
	gm.SetHeader("Subject", escapeHeader(msg.Subject))
	if msg.MessageID != "" {
		gm.SetHeader("Message-ID", "<"+msg.MessageID+">")
	}
	for key, value := range msg.Headers {
		gm.SetHeader(key, escapeHeader(value))
	}

	gm.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		gm.AddAlternative("text/html", msg.HTMLBody)
	}
	return gm
}

// StatusCode extracts the SMTP reply code carried by err, if any.
func StatusCode(err error) (int, bool) {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code, true
	}
	return 0, false
}

func validateSMTPConfig(cfg SMTPSettings) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("smtp: host is required when enabled")
	}
	if cfg.Port == 0 {
		return errors.New("smtp: port is required when enabled")
	}
	return nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func escapeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}
