package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/face"
	"faceattend/internal/logger"
)

// Invalidator drops cached extractions for a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// ImageStore removes enrollment images that are no longer referenced.
type ImageStore interface {
	Destroy(ctx context.Context, publicID string) error
}

// URLExtractor detects faces in a remote image.
type URLExtractor interface {
	DetectURL(ctx context.Context, imageURL string) ([]face.Description, error)
}

// Service handles enrollment. Every write replaces the profile wholesale and
// invalidates the cached extraction for that user.
type Service struct {
	store  Store
	cache  Invalidator
	images ImageStore
	log    logger.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the descriptor cache invalidated on every enrollment.
func WithCache(c Invalidator) Option {
	return func(s *Service) { s.cache = c }
}

// WithImageStore sets where replaced enrollment images are destroyed.
func WithImageStore(i ImageStore) Option {
	return func(s *Service) { s.images = i }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an enrollment service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user's profile or ErrNotFound.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	return s.store.Get(ctx, userID)
}

// Enroll replaces the user's profile with already-extracted samples. A
// previous enrollment image is released.
func (s *Service) Enroll(ctx context.Context, userID string, samples []face.Description) (Profile, error) {
	if userID == "" {
		return Profile{}, errors.New("user id required")
	}
	kept := usable(samples)
	if len(kept) == 0 {
		return Profile{}, ErrNoSamples
	}
	return s.replace(ctx, Profile{UserID: userID, Samples: kept})
}

// EnrollFromImage checks that an uploaded enrollment image shows a face and
// makes it the user's profile. When the image yields no face, or the profile
// cannot be saved, it is destroyed and the old profile stays in place.
func (s *Service) EnrollFromImage(ctx context.Context, ex URLExtractor, userID, imageURL, publicID string) (Profile, error) {
	if userID == "" || imageURL == "" {
		return Profile{}, errors.New("user id and image url required")
	}
	found, err := ex.DetectURL(ctx, imageURL)
	if err == nil && len(usable(found)) == 0 {
		err = face.ErrNoFaceDetected
	}
	if err != nil {
		s.destroy(ctx, userID, publicID)
		return Profile{}, fmt.Errorf("extract enrollment image: %w", err)
	}
	// Only the reference is kept; verification extracts from the image and
	// caches the result.
	return s.replace(ctx, Profile{
		UserID:        userID,
		ImageURL:      imageURL,
		ImagePublicID: publicID,
	})
}

func (s *Service) replace(ctx context.Context, p Profile) (Profile, error) {
	prev, err := s.store.Get(ctx, p.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}

	p.UpdatedAt = s.now()
	saved, err := s.store.Put(ctx, p)
	if err != nil {
		if p.ImagePublicID != prev.ImagePublicID {
			s.destroy(ctx, p.UserID, p.ImagePublicID)
		}
		return Profile{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, p.UserID); err != nil {
			s.log.Warn(ctx, "descriptor cache invalidation failed", logger.String("user_id", p.UserID), logger.Err(err))
		}
	}
	if prev.ImagePublicID != "" && prev.ImagePublicID != saved.ImagePublicID {
		s.destroy(ctx, p.UserID, prev.ImagePublicID)
	}

	s.log.Info(ctx, "profile enrolled",
		logger.String("user_id", p.UserID),
		logger.Int("samples", len(saved.Samples)),
		logger.Bool("has_image", saved.ImageURL != ""),
	)
	return saved, nil
}

func (s *Service) destroy(ctx context.Context, userID, publicID string) {
	if s.images == nil || publicID == "" {
		return
	}
	if err := s.images.Destroy(ctx, publicID); err != nil {
		s.log.Warn(ctx, "enrollment image destroy failed",
			logger.String("user_id", userID),
			logger.String("public_id", publicID),
			logger.Err(err),
		)
	}
}

func usable(in []face.Description) []face.Description {
	out := make([]face.Description, 0, len(in))
	for _, d := range in {
		if !d.IsEmpty() {
			out = append(out, d)
		}
	}
	return out
}
