package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "shivanotify"

var (
	current atomic.Pointer[zap.Logger]
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() { // usable before Init is called
	current.Store(zap.NewNop())
}

// Init builds the process logger. Encoding is "json" (default) or "console".
// An unknown level falls back to info.
func Init(lvl, encoding string) error {
	cfg := zap.NewProductionConfig()
	SetLevel(lvl)
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": serviceName}

	if strings.EqualFold(strings.TrimSpace(encoding), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	Replace(built)
	return nil
}

// SetLevel changes the level of a logger built by Init without rebuilding it.
// It reports whether lvl was recognised.
func SetLevel(lvl string) bool {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(lvl))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
		return false
	}
	level.SetLevel(parsed)
	return true
}

// Replace swaps the process logger. Nil resets it to a no-op logger.
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Logger returns the process logger.
func Logger() *zap.Logger {
	return current.Load()
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the component name, e.g.
// "scheduler", "dispatcher" or "delivery".
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
