package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/neshama/shivanotify/pkg/errors"
	"github.com/neshama/shivanotify/pkg/logger"
	"github.com/neshama/shivanotify/pkg/validator"
)

// Response is the envelope every ops API endpoint answers with.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the client-facing part of an AppError. Fields lists the
// failing inputs when the error came from struct validation.
type ErrorInfo struct {
	Code    string                      `json:"code"`
	Message string                      `json:"message"`
	Fields  []validator.ValidationError `json:"fields,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// Error writes a JSON error response derived from an AppError. Server-side
// failures are logged with their internal cause, which never reaches the body.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr == nil {
		appErr = appErrors.ErrInternalServer
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	info := &ErrorInfo{Code: appErr.Code, Message: appErr.Message}
	var invalid validator.ValidationErrors
	if errors.As(appErr.Internal, &invalid) {
		info.Fields = invalid
	}

	if status >= http.StatusInternalServerError && appErr.Internal != nil {
		logger.WithModule("http").Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(appErr.Internal),
		)
	}

	c.JSON(status, Response{Success: false, Error: info})
}
