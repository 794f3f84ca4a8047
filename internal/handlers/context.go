package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHookTimeout = time.Minute

func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// hookContext detaches a trigger hook from the caller's connection and bounds
// it by timeout. A hook that already handed mail to the provider must finish
// recording the outcome even when the caller hangs up.
func hookContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	return context.WithTimeout(context.WithoutCancel(requestContext(c)), timeout)
}
