// Package checkin verifies a captured face against the caller's enrolled
// profile and, on a match, advances the attendance ledger.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"faceattend/internal/attendance"
	"faceattend/internal/cache"
	"faceattend/internal/face"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
	"faceattend/internal/tempimage"
)

var (
	// ErrInputMissing means the request carried neither an image nor a sample.
	ErrInputMissing = errors.New("face image or sample required")
	// ErrImageTooLarge means the uploaded image exceeds tempimage.MaxImageBytes.
	ErrImageTooLarge = errors.New("image too large")
	// ErrStorage wraps ledger, profile store and image storage failures.
	ErrStorage = errors.New("storage fault")
	// ErrExtractor wraps failures of the face detection service.
	ErrExtractor = errors.New("extractor fault")
)

// Extractor detects faces in a local image file.
type Extractor interface {
	Detect(ctx context.Context, path string) ([]face.Description, error)
}

// Profiles loads enrolled profiles.
type Profiles interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
}

// Ledger applies a positive match to the attendance records.
type Ledger interface {
	Mark(ctx context.Context, userID string) (attendance.Outcome, error)
}

// MarkRequest is one verification attempt by an authenticated user. Exactly
// one of Image and Sample is expected; a non-empty Sample wins.
type MarkRequest struct {
	UserID string
	Image  io.Reader
	Sample *face.Description
}

// MarkResponse is the outcome of a verification. Attendance is set only on a
// match.
type MarkResponse struct {
	IsMatch       bool                  `json:"isMatch"`
	Confidence    float64               `json:"confidence"`
	Strategy      face.Strategy         `json:"strategy"`
	Details       map[string]float64    `json:"details,omitempty"`
	Attendance    *attendance.Record    `json:"attendance,omitempty"`
	AlreadyMarked bool                  `json:"alreadyMarked"`
	Transition    attendance.Transition `json:"transition,omitempty"`
}

// Orchestrator runs extraction, the match policy and the ledger for one
// request at a time. It holds no per-request state.
type Orchestrator struct {
	profiles  Profiles
	extractor Extractor
	policy    *face.Policy
	ledger    Ledger
	temp      *tempimage.Factory
	cache     cache.Cache
	metrics   *metrics.Recorder
	log       logger.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache sets the cache for faces extracted from enrollment images.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.cache = c
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// New wires an orchestrator.
func New(profiles Profiles, extractor Extractor, policy *face.Policy, ledger Ledger, temp *tempimage.Factory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		profiles:  profiles,
		extractor: extractor,
		policy:    policy,
		ledger:    ledger,
		temp:      temp,
		cache:     cache.Nop{},
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mark verifies the request's face against the caller's profile and records
// attendance on a match. Every temp file created on the way is removed before
// Mark returns, whatever the outcome.
func (o *Orchestrator) Mark(ctx context.Context, req MarkRequest) (resp MarkResponse, err error) {
	start := o.now()
	strategy := o.policy.Strategy()
	log := o.log.With(logger.String("user_id", req.UserID), logger.String("strategy", string(strategy)))

	defer func() {
		outcome := outcomeOf(resp, err)
		o.metrics.Verification(string(strategy), outcome, resp.Confidence, o.now().Sub(start))
		switch outcome {
		case "error":
			log.Error(ctx, "verification failed", logger.Err(err))
		case "matched", "not_matched":
			log.Info(ctx, "verification decided",
				logger.Bool("is_match", resp.IsMatch),
				logger.Float64("confidence", resp.Confidence),
				logger.Bool("already_marked", resp.AlreadyMarked),
			)
		default:
			log.Info(ctx, "verification rejected", logger.String("outcome", outcome), logger.Err(err))
		}
	}()

	hasSample := req.Sample != nil && !req.Sample.IsEmpty()
	if !hasSample && req.Image == nil {
		return MarkResponse{}, ErrInputMissing
	}
	if req.UserID == "" {
		return MarkResponse{}, errors.New("caller identity required")
	}

	prof, err := o.profiles.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return MarkResponse{}, err
		}
		return MarkResponse{}, fmt.Errorf("%w: load profile: %w", ErrStorage, err)
	}
	if !prof.Enrolled() {
		return MarkResponse{}, profile.ErrNotFound
	}

	scope := o.temp.Open()
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			log.Warn(ctx, "temp image cleanup failed", logger.Err(cerr))
		}
	}()

	var sample face.Description
	var candidates []face.Description

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if hasSample {
			sample = *req.Sample
			return nil
		}
		s, err := o.extractSample(gctx, scope, req.Image)
		sample = s
		return err
	})
	g.Go(func() error {
		c, err := o.candidates(gctx, scope, prof)
		candidates = c
		return err
	})
	if err := g.Wait(); err != nil {
		return MarkResponse{}, err
	}

	result := o.policy.Decide(sample, candidates)
	resp = MarkResponse{
		IsMatch:    result.IsMatch,
		Confidence: result.Confidence,
		Strategy:   result.Strategy,
		Details:    result.Details,
	}
	if !result.IsMatch {
		return resp, nil
	}

	out, err := o.ledger.Mark(ctx, req.UserID)
	if err != nil {
		return MarkResponse{}, fmt.Errorf("%w: mark attendance: %w", ErrStorage, err)
	}
	o.metrics.Transition(string(out.Transition))
	rec := out.Record
	resp.Attendance = &rec
	resp.AlreadyMarked = out.AlreadyMarked()
	resp.Transition = out.Transition
	return resp, nil
}

// extractSample stores the uploaded image and returns the first face found.
func (o *Orchestrator) extractSample(ctx context.Context, scope *tempimage.Scope, image io.Reader) (face.Description, error) {
	path, err := scope.SaveUpload(image)
	switch {
	case errors.Is(err, tempimage.ErrEmpty):
		return face.Description{}, ErrInputMissing
	case errors.Is(err, tempimage.ErrTooLarge):
		return face.Description{}, ErrImageTooLarge
	case err != nil:
		return face.Description{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	faces, err := o.detect(ctx, path)
	if err != nil {
		return face.Description{}, err
	}
	return faces[0], nil
}

// candidates returns the profile's stored samples, or the faces of its
// enrollment image when no samples were stored. Image extractions are cached
// per user and image.
func (o *Orchestrator) candidates(ctx context.Context, scope *tempimage.Scope, p profile.Profile) ([]face.Description, error) {
	if len(p.Samples) > 0 {
		return p.Samples, nil
	}

	cached, ok, err := o.cache.Get(ctx, p.UserID, p.ImageURL)
	if err != nil {
		o.log.Warn(ctx, "descriptor cache read failed", logger.String("user_id", p.UserID), logger.Err(err))
	}
	o.metrics.CacheLookup(ok)
	if ok && len(cached) > 0 {
		return cached, nil
	}

	path, err := scope.Download(ctx, p.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch enrollment image: %w", ErrStorage, err)
	}
	faces, err := o.detect(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := o.cache.Set(ctx, p.UserID, p.ImageURL, faces); err != nil {
		o.log.Warn(ctx, "descriptor cache write failed", logger.String("user_id", p.UserID), logger.Err(err))
	}
	return faces, nil
}

func (o *Orchestrator) detect(ctx context.Context, path string) ([]face.Description, error) {
	faces, err := o.extractor.Detect(ctx, path)
	if errors.Is(err, face.ErrNoFaceDetected) || (err == nil && len(faces) == 0) {
		return nil, face.ErrNoFaceDetected
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractor, err)
	}
	return faces, nil
}

func outcomeOf(resp MarkResponse, err error) string {
	switch {
	case err == nil && resp.IsMatch:
		return "matched"
	case err == nil:
		return "not_matched"
	case errors.Is(err, ErrInputMissing), errors.Is(err, ErrImageTooLarge):
		return "input_missing"
	case errors.Is(err, profile.ErrNotFound):
		return "profile_not_found"
	case errors.Is(err, face.ErrNoFaceDetected):
		return "no_face"
	default:
		return "error"
	}
}
