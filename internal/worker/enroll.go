// Package worker processes background enrollment jobs.
package worker

import (
	"context"
	"fmt"

	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
	"faceattend/internal/queue"
)

// Enroller replaces a profile with an uploaded enrollment image.
type Enroller interface {
	EnrollFromImage(ctx context.Context, ex profile.URLExtractor, userID, imageURL, publicID string) (profile.Profile, error)
}

// Consumer handles profile.enroll messages.
type Consumer struct {
	Profiles  Enroller
	Extractor profile.URLExtractor
	Metrics   *metrics.Recorder
	Log       logger.Logger
}

// Run handles messages until msgs is closed. Failed jobs are logged and
// dropped; the user re-uploads.
func (c *Consumer) Run(ctx context.Context, msgs <-chan queue.Message) {
	log := c.Log
	if log == nil {
		log = logger.Nop()
	}
	for msg := range msgs {
		if err := c.Handle(ctx, msg); err != nil {
			log.Error(ctx, "enroll job failed", logger.String("type", msg.Type), logger.Err(err))
		}
	}
}

// Handle processes one message. Messages of other types are ignored.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeProfileEnroll {
		return nil
	}
	var job queue.EnrollJob
	if err := msg.Decode(&job); err != nil {
		return fmt.Errorf("decode enroll job: %w", err)
	}
	if job.UserID == "" || job.ImageURL == "" {
		return fmt.Errorf("enroll job missing user or image")
	}

	p, err := c.Profiles.EnrollFromImage(ctx, c.Extractor, job.UserID, job.ImageURL, job.PublicID)
	c.Metrics.Enrollment("image", err)
	if err != nil {
		return fmt.Errorf("enroll %s: %w", job.UserID, err)
	}
	if c.Log != nil {
		c.Log.Info(ctx, "profile enrolled from image",
			logger.String("user_id", p.UserID),
			logger.String("image_url", p.ImageURL),
		)
	}
	return nil
}
