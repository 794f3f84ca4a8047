package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neshama/shivanotify/internal/notify"
	"github.com/neshama/shivanotify/pkg/mail"
)

// Settings configure the email sender.
type Settings struct {
	From     string
	FromName string
	// MessageIDDomain is the right-hand side of generated Message-IDs. It
	// defaults to the domain of From.
	MessageIDDomain string
	// UnsubscribeURL is advertised through List-Unsubscribe when set.
	UnsubscribeURL string

	// Rate limits sends per second; zero disables limiting.
	Rate  float64
	Burst int

	Breaker BreakerSettings
}

// BreakerSettings tune the circuit breaker around the mail transport.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker; zero uses 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; zero uses 60s.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes pass while half-open; zero uses 1.
	HalfOpenRequests uint32
}

// EmailSender delivers notifications over a mail.Mailer.
type EmailSender struct {
	mailer   mail.Mailer
	renderer *Renderer
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	settings Settings
	domain   string
	log      *zap.Logger
}

// NewEmailSender constructs an EmailSender.
func NewEmailSender(mailer mail.Mailer, renderer *Renderer, settings Settings, log *zap.Logger) (*EmailSender, error) {
	if mailer == nil {
		return nil, errors.New("email sender: mailer is required")
	}
	if renderer == nil {
		return nil, errors.New("email sender: renderer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &EmailSender{
		mailer:   mailer,
		renderer: renderer,
		settings: settings,
		domain:   messageIDDomain(settings),
		log:      log,
	}
	if settings.Rate > 0 {
		burst := settings.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(settings.Rate), burst)
	}
	s.breaker = gobreaker.NewCircuitBreaker(breakerSettings(settings.Breaker, log))
	return s, nil
}

// Send renders msg and hands it to the mail transport. The Message-ID is
// derived from the record id so a resend after a lost acknowledgement can be
// recognised downstream.
func (s *EmailSender) Send(ctx context.Context, msg notify.Message) (notify.Receipt, error) {
	rendered, err := s.renderer.Render(msg)
	if err != nil {
		return notify.Receipt{}, notify.Permanent(err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return notify.Receipt{}, notify.Transient(fmt.Errorf("rate limit: %w", err))
		}
	}

	messageID := MessageID(msg.RecordID, s.domain)
	out := mail.Message{
		From:      s.settings.From,
		FromName:  s.settings.FromName,
		To:        []string{msg.To},
		ToName:    msg.ToName,
		Subject:   rendered.Subject,
		TextBody:  rendered.Text,
		HTMLBody:  rendered.HTML,
		MessageID: messageID,
	}
	if s.settings.UnsubscribeURL != "" {
		out.Headers = map[string]string{"List-Unsubscribe": "<" + s.settings.UnsubscribeURL + ">"}
	}

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.mailer.Send(ctx, out)
	})
	if err != nil {
		return notify.Receipt{}, Classify(err)
	}
	return notify.Receipt{MessageID: messageID}, nil
}

// Classify wraps a transport error with its retry class. Address and content
// rejections are permanent; everything else is worth another attempt.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return notify.Transient(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return notify.Transient(err)
	case errors.Is(err, mail.ErrInvalidAddress), errors.Is(err, mail.ErrSMTPDisabled):
		return notify.Permanent(err)
	}
	if code, ok := mail.StatusCode(err); ok {
		if code >= 500 {
			return notify.Permanent(err)
		}
		return notify.Transient(err)
	}
	return notify.Transient(err)
}

// MessageID builds the stable Message-ID of a record.
func MessageID(recordID, domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return "notification." + recordID + "@" + domain
}

func messageIDDomain(settings Settings) string {
	if d := strings.TrimSpace(settings.MessageIDDomain); d != "" {
		return d
	}
	if at := strings.LastIndex(settings.From, "@"); at != -1 {
		return strings.Trim(settings.From[at+1:], "> ")
	}
	return ""
}

func breakerSettings(cfg BreakerSettings, log *zap.Logger) gobreaker.Settings {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	probes := cfg.HalfOpenRequests
	if probes == 0 {
		probes = 1
	}

	return gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: probes,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Rejected recipients say nothing about the health of the relay.
		IsSuccessful: func(err error) bool {
			return err == nil || notify.IsPermanent(Classify(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("mail circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}
