package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error rendered to ops API consumers. Code is the
// stable identifier callers match on; Message is safe to show.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches any AppError carrying the same code, so copies produced by
// WithInternal still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Internal = err
	return &cpy
}

var (
	ErrBadRequest     = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFound       = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict       = New("CONFLICT", "Resource changed concurrently", http.StatusConflict)
	ErrRateLimited    = New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)
	ErrInternalServer = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrTimeout        = New("TIMEOUT", "The operation did not finish in time", http.StatusGatewayTimeout)
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// Wrap turns err into an AppError with message. An AppError already in the
// chain is returned unchanged and deadline errors become ErrTimeout.
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrTimeout.Code, Message: message, StatusCode: ErrTimeout.StatusCode, Internal: err}
	default:
		return &AppError{Code: "INTERNAL_ERROR", Message: message, StatusCode: http.StatusInternalServerError, Internal: err}
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest returns a BAD_REQUEST error with a caller-facing message.
func NewBadRequest(message string) *AppError {
	return &AppError{Code: ErrBadRequest.Code, Message: message, StatusCode: ErrBadRequest.StatusCode}
}
