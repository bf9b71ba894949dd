package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kue-app/backend/internal/database"
	"github.com/kue-app/backend/internal/models"
)

// ErrProfileNotFound is returned when a profile does not exist or belongs to
// another user.
var ErrProfileNotFound = errors.New("profile not found")

const profileColumns = `id, user_id, name, category, role_title, context, screenshot_url, created_at, updated_at`

// MaxProfilesPerUser caps List results.
const MaxProfilesPerUser = 200

// ProfileRepository handles chat profile database operations. Every query is
// scoped by user id.
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// List returns the user's profiles, newest first.
func (r *ProfileRepository) List(ctx context.Context, userID string) ([]models.Profile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM chat_profiles
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, MaxProfilesPerUser)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]models.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Get returns one profile owned by userID.
func (r *ProfileRepository) Get(ctx context.Context, userID, id string) (*models.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrProfileNotFound
	}
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM chat_profiles WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// Create inserts a profile for userID.
func (r *ProfileRepository) Create(ctx context.Context, userID string, in models.ProfileInput) (*models.Profile, error) {
	now := time.Now().UTC()
	p := &models.Profile{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.Apply(p)

	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.Name, p.Category, p.RoleTitle, p.Context, p.ScreenshotURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

// Update replaces the writable fields of a profile owned by userID.
func (r *ProfileRepository) Update(ctx context.Context, userID, id string, in models.ProfileInput) (*models.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrProfileNotFound
	}
	p, err := scanProfile(r.db.QueryRow(ctx, `
		UPDATE chat_profiles
		SET name = $3, category = $4, role_title = $5, context = $6, screenshot_url = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2
		RETURNING `+profileColumns,
		id, userID, in.Name, in.Category, in.RoleTitle, in.Context, in.ScreenshotURL, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// Delete removes a profile owned by userID.
func (r *ProfileRepository) Delete(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrProfileNotFound
	}
	n, err := r.db.Exec(ctx, `DELETE FROM chat_profiles WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.RoleTitle, &p.Context,
		&p.ScreenshotURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
