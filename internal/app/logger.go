package app

import (
	"strings"

	"github.com/neshama/shivanotify/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level
// and JSON encoding.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	encoding := strings.TrimSpace(cfg.LogEncoding)
	if encoding == "" {
		encoding = "json"
	}
	return logger.Init(level, encoding)
}
