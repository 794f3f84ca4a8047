package shiva

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/models"
)

// Repository reads pages, signups and invites from the application database.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a Repository.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("shiva repository: db is required")
	}
	return &Repository{db: db}, nil
}

// ActivePages returns every page that is still active.
func (r *Repository) ActivePages(ctx context.Context) ([]models.CoordinationPage, error) {
	var pages []models.CoordinationPage
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PageStatusActive).
		Order("start_date, id").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("shiva repository: active pages: %w", err)
	}
	return pages, nil
}

// Page loads a page by id. A missing page yields nil without error.
func (r *Repository) Page(ctx context.Context, id string) (*models.CoordinationPage, error) {
	var page models.CoordinationPage
	if err := r.take(ctx, &page, id); err != nil || page.ID == "" {
		return nil, err
	}
	return &page, nil
}

// Signups returns every signup of a page, cancelled ones included.
func (r *Repository) Signups(ctx context.Context, pageID string) ([]models.Signup, error) {
	var signups []models.Signup
	err := r.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("meal_date, created_at, id").
		Find(&signups).Error
	if err != nil {
		return nil, fmt.Errorf("shiva repository: signups: %w", err)
	}
	return signups, nil
}

// Signup loads a signup by id. A missing signup yields nil without error.
func (r *Repository) Signup(ctx context.Context, id string) (*models.Signup, error) {
	var signup models.Signup
	if err := r.take(ctx, &signup, id); err != nil || signup.ID == "" {
		return nil, err
	}
	return &signup, nil
}

// SignupGroup returns the signups submitted together under groupKey. A signup
// without a group forms a group of its own keyed by its id.
func (r *Repository) SignupGroup(ctx context.Context, pageID, groupKey string) ([]models.Signup, error) {
	var signups []models.Signup
	err := r.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Where("group_id = ? OR ((group_id = '' OR group_id IS NULL) AND id = ?)", groupKey, groupKey).
		Order("meal_date, id").
		Find(&signups).Error
	if err != nil {
		return nil, fmt.Errorf("shiva repository: signup group: %w", err)
	}
	return signups, nil
}

// Coverage counts confirmed signups per date in [from, to].
func (r *Repository) Coverage(ctx context.Context, pageID, from, to string) (map[string]int, error) {
	var rows []struct {
		MealDate string
		Total    int
	}
	err := r.db.WithContext(ctx).Model(&models.Signup{}).
		Select("meal_date, COUNT(*) AS total").
		Where("page_id = ? AND status = ?", pageID, models.SignupStatusConfirmed).
		Where("meal_date >= ? AND meal_date <= ?", from, to).
		Group("meal_date").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("shiva repository: coverage: %w", err)
	}

	coverage := make(map[string]int, len(rows))
	for _, row := range rows {
		coverage[row.MealDate] = row.Total
	}
	return coverage, nil
}

// Invite loads a co-organizer invite by id. A missing invite yields nil
// without error.
func (r *Repository) Invite(ctx context.Context, id string) (*models.CoOrganizerInvite, error) {
	var invite models.CoOrganizerInvite
	if err := r.take(ctx, &invite, id); err != nil || invite.ID == "" {
		return nil, err
	}
	return &invite, nil
}

func (r *Repository) take(ctx context.Context, dest any, id string) error {
	err := r.db.WithContext(ctx).Take(dest, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("shiva repository: load %s: %w", id, err)
	}
	return nil
}
