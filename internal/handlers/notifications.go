package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/notify"
	apperrors "github.com/neshama/shivanotify/pkg/errors"
	"github.com/neshama/shivanotify/pkg/response"
	"github.com/neshama/shivanotify/pkg/validator"
)

// NotificationService is the part of the notification engine exposed over HTTP.
type NotificationService interface {
	FailedCounts(ctx context.Context, pageID string) (notify.FailureCounts, error)
	RecordExists(ctx context.Context, key notify.RecordKey) (bool, error)
	OnSignupCreated(ctx context.Context, event notify.SignupCreated) (notify.HookResult, error)
	OnCoOrganizerInvited(ctx context.Context, event notify.CoOrganizerInvited) (notify.HookResult, error)
}

// NotificationHandler exposes notification lookups and trigger hooks.
type NotificationHandler struct {
	service     NotificationService
	hookTimeout time.Duration
}

// NewNotificationHandler constructs a notification handler. hookTimeout bounds
// each trigger hook; zero uses one minute.
func NewNotificationHandler(service NotificationService, hookTimeout time.Duration) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("notification handler: service is required")
	}
	return &NotificationHandler{service: service, hookTimeout: hookTimeout}, nil
}

type existsQuery struct {
	SubjectID string `form:"subject_id" json:"subject_id" validate:"required"`
	Kind      string `form:"kind" json:"kind" validate:"required"`
	Recipient string `form:"recipient" json:"recipient" validate:"required,email"`
	Date      string `form:"date" json:"date" validate:"omitempty,localdate"`
}

type hookSummary struct {
	Created      int `json:"created"`
	Deduplicated int `json:"deduplicated"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
}

// Failures returns terminal and retrying counts for a page's notifications.
func (h *NotificationHandler) Failures(c *gin.Context) {
	pageID := strings.TrimSpace(c.Param("id"))
	if pageID == "" {
		response.Error(c, apperrors.NewBadRequest("page id is required"))
		return
	}

	counts, err := h.service.FailedCounts(requestContext(c), pageID)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to count notifications"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"page_id":  pageID,
		"terminal": counts.Terminal,
		"retrying": counts.Retrying,
	})
}

// Exists reports whether a record with the given dedup key has been created.
func (h *NotificationHandler) Exists(c *gin.Context) {
	var query existsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if err := validator.ValidateStruct(query); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid lookup query").WithInternal(err))
		return
	}
	kind, err := notify.ParseKind(query.Kind)
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	key := notify.NewRecordKey(query.SubjectID, kind, query.Recipient, query.Date)
	exists, err := h.service.RecordExists(requestContext(c), key)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to look up notification"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exists": exists})
}

// SignupCreated triggers the signup hook for a newly submitted group.
func (h *NotificationHandler) SignupCreated(c *gin.Context) {
	var event notify.SignupCreated
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid signup payload"))
		return
	}

	ctx, cancel := hookContext(c, h.hookTimeout)
	defer cancel()

	result, err := h.service.OnSignupCreated(ctx, event)
	if err != nil {
		response.Error(c, hookError(err))
		return
	}
	response.Success(c, http.StatusAccepted, summarize(result))
}

// CoOrganizerInvited triggers the invite hook for a new co-organizer invite.
func (h *NotificationHandler) CoOrganizerInvited(c *gin.Context) {
	var event notify.CoOrganizerInvited
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid invite payload"))
		return
	}

	ctx, cancel := hookContext(c, h.hookTimeout)
	defer cancel()

	result, err := h.service.OnCoOrganizerInvited(ctx, event)
	if err != nil {
		response.Error(c, hookError(err))
		return
	}
	response.Success(c, http.StatusAccepted, summarize(result))
}

func hookError(err error) error {
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		return apperrors.NewBadRequest("invalid hook payload").WithInternal(invalid)
	case errors.Is(err, notify.ErrNotFound):
		return apperrors.ErrNotFound.WithInternal(err)
	case errors.Is(err, notify.ErrDataStoreConflict):
		return apperrors.ErrConflict.WithInternal(err)
	default:
		return apperrors.Wrap(err, "notification hook failed")
	}
}

func summarize(result notify.HookResult) hookSummary {
	return hookSummary{
		Created:      result.Resolve.Created,
		Deduplicated: result.Resolve.Deduplicated,
		Sent:         result.Dispatch.Sent,
		Failed:       result.Dispatch.Failed + result.Dispatch.Terminal,
		Skipped:      result.Dispatch.Skipped,
	}
}
