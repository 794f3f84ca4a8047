package app

import (
	"github.com/neshama/shivanotify/internal/delivery"
	"github.com/neshama/shivanotify/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		FromName: c.SMTP.FromName,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// DeliverySettings combines the sender identity with the provider limits.
func (c Config) DeliverySettings() delivery.Settings {
	return delivery.Settings{
		From:            c.Email.SMTP.From,
		FromName:        c.Email.SMTP.FromName,
		MessageIDDomain: c.Notifications.MessageIDDomain,
		UnsubscribeURL:  c.Notifications.UnsubscribeURL,
		Rate:            c.Notifications.SendRate,
		Burst:           c.Notifications.SendBurst,
		Breaker: delivery.BreakerSettings{
			ConsecutiveFailures: c.Notifications.Breaker.ConsecutiveFailures,
			OpenTimeout:         c.Notifications.Breaker.OpenTimeout,
			HalfOpenRequests:    c.Notifications.Breaker.HalfOpenRequests,
		},
	}
}

// UseTestMode reports whether mail should be logged instead of sent, either
// because test mode is forced or no SMTP relay is configured.
func (c Config) UseTestMode() bool {
	return c.Notifications.TestMode || !c.Email.SMTP.Enabled
}
