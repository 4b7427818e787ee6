package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"faceattend/internal/face"
)

// Repository persists profiles in Postgres, samples as JSONB.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	var samples []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, samples, image_url, image_public_id, created_at, updated_at
		FROM face_profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &samples, &p.ImageURL, &p.ImagePublicID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal(samples, &p.Samples); err != nil {
		return Profile{}, fmt.Errorf("decode samples for %s: %w", userID, err)
	}
	return p, nil
}

// Put implements Store. created_at survives re-enrollment; everything else
// is overwritten.
func (r *Repository) Put(ctx context.Context, p Profile) (Profile, error) {
	if p.Samples == nil {
		p.Samples = []face.Description{}
	}
	samples, err := json.Marshal(p.Samples)
	if err != nil {
		return Profile{}, fmt.Errorf("encode samples: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO face_profiles (user_id, samples, image_url, image_public_id, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
			SET samples = EXCLUDED.samples,
				image_url = EXCLUDED.image_url,
				image_public_id = EXCLUDED.image_public_id,
				updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, p.UserID, string(samples), p.ImageURL, p.ImagePublicID, p.UpdatedAt.UTC()).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("put profile: %w", err)
	}
	return p, nil
}
