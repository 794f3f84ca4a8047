package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/neshama/shivanotify/pkg/errors"
	"github.com/neshama/shivanotify/pkg/response"
)

const limiterIdle = 10 * time.Minute

// RateLimit returns a middleware that applies a token bucket per client IP.
// A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		visitors  = make(map[string]*visitor)
		lastSweep time.Time
	)

	return func(c *gin.Context) {
		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		if now.Sub(lastSweep) > time.Minute {
			for key, v := range visitors {
				if now.Sub(v.lastSeen) > limiterIdle {
					delete(visitors, key)
				}
			}
			lastSweep = now
		}
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		allowed := v.limiter.AllowN(now, 1)
		mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(burst))
		if !allowed {
			response.Error(c, errors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
