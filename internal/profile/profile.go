// Package profile stores enrolled face profiles and handles enrollment.
package profile

import (
	"context"
	"errors"
	"time"

	"faceattend/internal/face"
)

// ErrNotFound is returned when a user has never enrolled.
var ErrNotFound = errors.New("face profile not found")

// ErrNoSamples is returned when an enrollment carries no usable description.
var ErrNoSamples = errors.New("enrollment needs at least one face sample")

// Profile is a user's enrolled reference. It holds extracted samples, an
// enrollment image reference, or both.
type Profile struct {
	UserID        string             `json:"userId"`
	Samples       []face.Description `json:"samples"`
	ImageURL      string             `json:"imageUrl,omitempty"`
	ImagePublicID string             `json:"imagePublicId,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Enrolled reports whether p can be verified against.
func (p Profile) Enrolled() bool {
	return len(p.Samples) > 0 || p.ImageURL != ""
}

// Store persists profiles. Put replaces the user's profile wholesale.
type Store interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Put(ctx context.Context, p Profile) (Profile, error)
}
