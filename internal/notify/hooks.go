package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/internal/monitoring"
	"github.com/neshama/shivanotify/pkg/validator"
)

const (
	hookSignupCreated      = "signup_created"
	hookCoOrganizerInvited = "co_organizer_invited"
)

// SignupCreated identifies a newly submitted signup group.
type SignupCreated struct {
	PageID   string `json:"page_id" validate:"required"`
	GroupKey string `json:"group_key" validate:"required"`
}

// CoOrganizerInvited identifies a newly created invite.
type CoOrganizerInvited struct {
	PageID   string `json:"page_id" validate:"required"`
	InviteID string `json:"invite_id" validate:"required"`
}

// HookResult reports what a trigger hook created and delivered.
type HookResult struct {
	Resolve  ResolveReport
	Dispatch DispatchReport
}

// OnSignupCreated creates and immediately delivers the confirmation and the
// organizer alert for a signup submission. Anything not delivered here is
// picked up by the next tick.
func (s *Scheduler) OnSignupCreated(ctx context.Context, event SignupCreated) (HookResult, error) {
	result, err := s.onSignupCreated(ctx, event)
	s.recordHook(hookSignupCreated, err, zap.String("page_id", event.PageID), zap.String("subject_id", event.GroupKey))
	return result, err
}

func (s *Scheduler) onSignupCreated(ctx context.Context, event SignupCreated) (HookResult, error) {
	var result HookResult
	if err := validator.ValidateStruct(event); err != nil {
		return result, err
	}

	page, err := s.directory.Page(ctx, event.PageID)
	if err != nil {
		return result, fmt.Errorf("signup hook: read page: %w", err)
	}
	if page == nil {
		return result, fmt.Errorf("signup hook: page %s: %w", event.PageID, ErrNotFound)
	}
	group, err := s.directory.SignupGroup(ctx, event.PageID, event.GroupKey)
	if err != nil {
		return result, fmt.Errorf("signup hook: read signups: %w", err)
	}
	if len(group) == 0 {
		return result, fmt.Errorf("signup hook: signup group %s: %w", event.GroupKey, ErrNotFound)
	}

	tick := NewTick(s.now(), s.location)
	result.Resolve, err = s.resolver.ForSignup(ctx, tick, *page, group)
	dispatch, dispatchErr := s.dispatcher.DeliverNow(ctx, tick, result.Resolve.Records)
	result.Dispatch = dispatch
	return result, multierr.Append(err, dispatchErr)
}

// OnCoOrganizerInvited creates and immediately delivers the invite email.
func (s *Scheduler) OnCoOrganizerInvited(ctx context.Context, event CoOrganizerInvited) (HookResult, error) {
	result, err := s.onCoOrganizerInvited(ctx, event)
	s.recordHook(hookCoOrganizerInvited, err, zap.String("page_id", event.PageID), zap.String("subject_id", event.InviteID))
	return result, err
}

func (s *Scheduler) onCoOrganizerInvited(ctx context.Context, event CoOrganizerInvited) (HookResult, error) {
	var result HookResult
	if err := validator.ValidateStruct(event); err != nil {
		return result, err
	}

	page, err := s.directory.Page(ctx, event.PageID)
	if err != nil {
		return result, fmt.Errorf("invite hook: read page: %w", err)
	}
	if page == nil {
		return result, fmt.Errorf("invite hook: page %s: %w", event.PageID, ErrNotFound)
	}
	invite, err := s.directory.Invite(ctx, event.InviteID)
	if err != nil {
		return result, fmt.Errorf("invite hook: read invite: %w", err)
	}
	if invite == nil || invite.PageID != page.ID {
		return result, fmt.Errorf("invite hook: invite %s: %w", event.InviteID, ErrNotFound)
	}

	tick := NewTick(s.now(), s.location)
	result.Resolve, err = s.resolver.ForInvite(ctx, tick, *page, *invite)
	dispatch, dispatchErr := s.dispatcher.DeliverNow(ctx, tick, result.Resolve.Records)
	result.Dispatch = dispatch
	return result, multierr.Append(err, dispatchErr)
}

// SignupEvent builds the hook input for a stored signup.
func SignupEvent(signup *models.Signup) SignupCreated {
	return SignupCreated{PageID: signup.PageID, GroupKey: signup.GroupKey()}
}

func (s *Scheduler) recordHook(hook string, err error, fields ...zap.Field) {
	switch {
	case err == nil:
		monitoring.RecordHookInvocation(hook, "success")
	case errors.Is(err, ErrNotFound):
		monitoring.RecordHookInvocation(hook, "not_found")
		s.log.Warn("hook target not found", append(fields, zap.String("hook", hook), zap.Error(err))...)
	default:
		monitoring.RecordHookInvocation(hook, "failure")
		s.log.Warn("hook failed", append(fields, zap.String("hook", hook), zap.Error(err))...)
	}
}
