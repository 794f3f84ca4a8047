package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/pkg/errors"
	"github.com/neshama/shivanotify/pkg/logger"
	"github.com/neshama/shivanotify/pkg/response"
)

// Recovery turns a panicking handler into a 500 and logs it with the stack.
// A hook that panics after writing its response keeps the written status.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithModule("http").Error("handler panic",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if !c.Writer.Written() {
				response.Error(c, errors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the JSON error envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithInternal(fmt.Errorf("no route for %s %s", c.Request.Method, c.Request.URL.Path)))
}
