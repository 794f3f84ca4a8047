package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/notify"
)

// TestModeMessageID is the provider id reported by LogSender.
const TestModeMessageID = "test-mode"

// LogSender renders messages and logs them instead of sending. It is used
// when no mail provider is configured.
type LogSender struct {
	renderer *Renderer
	log      *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(renderer *Renderer, log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{renderer: renderer, log: log}
}

// Send logs msg and reports success.
func (s *LogSender) Send(_ context.Context, msg notify.Message) (notify.Receipt, error) {
	subject := Subject(msg.Kind, msg.Data)
	if s.renderer != nil {
		rendered, err := s.renderer.Render(msg)
		if err != nil {
			return notify.Receipt{}, notify.Permanent(err)
		}
		subject = rendered.Subject
	}
	s.log.Info("test mode: notification not sent",
		zap.String("record_id", msg.RecordID),
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", msg.To),
		zap.String("subject", subject))
	return notify.Receipt{MessageID: TestModeMessageID}, nil
}
