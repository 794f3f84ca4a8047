package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/monitoring"
)

// Metrics observes latency per route template. Requests to skip paths, such
// as the scrape endpoint itself, are not observed.
func Metrics(skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		ignored[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := ignored[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.ObserveAPILatency(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
