package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/pkg/logger"
)

// Logger writes a concise structured access log for each request. Probe
// traffic on /health is logged at debug level.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		log := logger.WithModule("http")
		if strings.HasPrefix(path, "/health") {
			log.Debug("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
