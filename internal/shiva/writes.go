package shiva

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/database"
	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/pkg/crypto"
	"github.com/neshama/shivanotify/pkg/validator"
)

const tokenBytes = 32

var (
	// ErrPageNotFound indicates no page matches the id.
	ErrPageNotFound = errors.New("shiva: page not found")
	// ErrPageInactive indicates the page no longer accepts changes.
	ErrPageInactive = errors.New("shiva: page is not active")
	// ErrDateOutOfRange indicates a meal date outside the shiva period.
	ErrDateOutOfRange = errors.New("shiva: meal date outside the shiva period")
	// ErrInviteNotFound indicates no invite matches the token.
	ErrInviteNotFound = errors.New("shiva: invite not found")
	// ErrInviteAlreadyUsed signals that the invite has already been accepted.
	ErrInviteAlreadyUsed = errors.New("shiva: invite already accepted")
)

// PageInput describes a new coordination page.
type PageInput struct {
	FamilyName          string          `json:"family_name" validate:"required,max=255"`
	OrganizerName       string          `json:"organizer_name" validate:"required,max=255"`
	OrganizerEmail      string          `json:"organizer_email" validate:"required,email"`
	ShivaAddress        string          `json:"shiva_address"`
	ShivaCity           string          `json:"shiva_city" validate:"max=128"`
	DropOffInstructions string          `json:"drop_off_instructions"`
	StartDate           string          `json:"start_date" validate:"required,localdate"`
	EndDate             string          `json:"end_date" validate:"required,localdate"`
	Preferences         map[string]bool `json:"notification_prefs"`
}

// SignupInput describes one meal in a volunteer submission.
type SignupInput struct {
	VolunteerName   string `json:"volunteer_name" validate:"required,max=255"`
	VolunteerEmail  string `json:"volunteer_email" validate:"required,email"`
	MealDate        string `json:"meal_date" validate:"required,localdate"`
	MealType        string `json:"meal_type" validate:"required,oneof=Lunch Dinner"`
	MealDescription string `json:"meal_description"`
}

// CreatePage stores a new active page with a fresh organizer token.
func (r *Repository) CreatePage(ctx context.Context, input PageInput) (*models.CoordinationPage, error) {
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.EndDate < input.StartDate {
		return nil, validator.ValidationErrors{{Field: "end_date", Tag: "gtefield", Param: "start_date"}}
	}

	page := models.CoordinationPage{
		FamilyName:          strings.TrimSpace(input.FamilyName),
		OrganizerName:       strings.TrimSpace(input.OrganizerName),
		OrganizerEmail:      strings.ToLower(strings.TrimSpace(input.OrganizerEmail)),
		ShivaAddress:        strings.TrimSpace(input.ShivaAddress),
		ShivaCity:           strings.TrimSpace(input.ShivaCity),
		DropOffInstructions: strings.TrimSpace(input.DropOffInstructions),
		StartDate:           input.StartDate,
		EndDate:             input.EndDate,
		Status:              models.PageStatusActive,
	}
	token, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("shiva: generate token: %w", err)
	}
	page.MagicToken = token
	if len(input.Preferences) > 0 {
		raw, err := json.Marshal(input.Preferences)
		if err != nil {
			return nil, fmt.Errorf("shiva: encode preferences: %w", err)
		}
		page.NotificationPrefs = datatypes.JSON(raw)
	}

	if err := r.db.WithContext(ctx).Create(&page).Error; err != nil {
		return nil, fmt.Errorf("shiva: create page: %w", err)
	}
	return &page, nil
}

// AddSignups stores one volunteer submission. All signups share a group id so
// that the volunteer and the organizer get a single email for it.
func (r *Repository) AddSignups(ctx context.Context, pageID string, inputs []SignupInput) ([]models.Signup, error) {
	if len(inputs) == 0 {
		return nil, errors.New("shiva: at least one signup is required")
	}
	for i := range inputs {
		if err := validator.ValidateStruct(inputs[i]); err != nil {
			return nil, err
		}
	}

	page, err := r.Page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !page.Active() {
		return nil, ErrPageInactive
	}

	groupID := uuid.NewString()
	signups := make([]models.Signup, 0, len(inputs))
	for _, in := range inputs {
		if in.MealDate < page.StartDate || in.MealDate > page.EndDate {
			return nil, fmt.Errorf("%w: %s", ErrDateOutOfRange, in.MealDate)
		}
		signups = append(signups, models.Signup{
			PageID:          page.ID,
			GroupID:         groupID,
			VolunteerName:   strings.TrimSpace(in.VolunteerName),
			VolunteerEmail:  strings.TrimSpace(in.VolunteerEmail),
			MealDate:        in.MealDate,
			MealType:        in.MealType,
			MealDescription: strings.TrimSpace(in.MealDescription),
			Status:          models.SignupStatusConfirmed,
		})
	}

	if err := r.db.WithContext(ctx).Create(&signups).Error; err != nil {
		return nil, fmt.Errorf("shiva: create signups: %w", err)
	}
	return signups, nil
}

// CancelSignup marks a signup cancelled.
func (r *Repository) CancelSignup(ctx context.Context, id string) error {
	return r.updateSignup(ctx, id, map[string]any{"status": models.SignupStatusCancelled})
}

// MoveSignup changes the meal date of a signup.
func (r *Repository) MoveSignup(ctx context.Context, id, mealDate string) error {
	return r.updateSignup(ctx, id, map[string]any{"meal_date": mealDate})
}

func (r *Repository) updateSignup(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Signup{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("shiva: update signup: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPreference turns a notification category on or off for a page.
func (r *Repository) SetPreference(ctx context.Context, pageID, key string, enabled bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page models.CoordinationPage
		if err := tx.Take(&page, "id = ?", pageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPageNotFound
			}
			return err
		}

		prefs := map[string]bool{}
		if len(page.NotificationPrefs) > 0 {
			_ = json.Unmarshal(page.NotificationPrefs, &prefs)
		}
		prefs[key] = enabled
		raw, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		return tx.Model(&models.CoordinationPage{}).
			Where("id = ?", pageID).
			Update("notification_prefs", datatypes.JSON(raw)).Error
	})
}

// CreateInvite stores a co-organizer invite for an active page.
func (r *Repository) CreateInvite(ctx context.Context, pageID, email, name, invitedBy string) (*models.CoOrganizerInvite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("shiva: invite email is required")
	}

	page, err := r.Page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !page.Active() {
		return nil, ErrPageInactive
	}

	token, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("shiva: generate token: %w", err)
	}
	invite := models.CoOrganizerInvite{
		PageID:    page.ID,
		Email:     email,
		Name:      strings.TrimSpace(name),
		InvitedBy: strings.TrimSpace(invitedBy),
		Token:     token,
	}
	if err := r.db.WithContext(ctx).Create(&invite).Error; err != nil {
		return nil, fmt.Errorf("shiva: create invite: %w", err)
	}
	return &invite, nil
}

// AcceptInvite consumes an invite token.
func (r *Repository) AcceptInvite(ctx context.Context, token string, at time.Time) (*models.CoOrganizerInvite, error) {
	var invite models.CoOrganizerInvite
	err := r.db.WithContext(ctx).Take(&invite, "token = ?", strings.TrimSpace(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shiva: load invite: %w", err)
	}
	if invite.AcceptedAt != nil {
		return nil, ErrInviteAlreadyUsed
	}

	accepted := database.Normalize(at)
	result := r.db.WithContext(ctx).Model(&models.CoOrganizerInvite{}).
		Where("id = ? AND accepted_at IS NULL", invite.ID).
		Update("accepted_at", accepted)
	if result.Error != nil {
		return nil, fmt.Errorf("shiva: accept invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInviteAlreadyUsed
	}
	invite.AcceptedAt = &accepted
	return &invite, nil
}
