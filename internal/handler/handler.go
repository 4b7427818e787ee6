// Package handler exposes the attendance and enrollment HTTP routes.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/checkin"
	"faceattend/internal/cloudinary"
	"faceattend/internal/face"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
	"faceattend/internal/queue"
	"faceattend/internal/tempimage"
)

// Marker runs one verification.
type Marker interface {
	Mark(ctx context.Context, req checkin.MarkRequest) (checkin.MarkResponse, error)
}

// Records reads the attendance ledger.
type Records interface {
	Today(ctx context.Context, userID string) (*attendance.Record, error)
	List(ctx context.Context, f attendance.ListFilter) ([]attendance.Record, error)
}

// Profiles reads and replaces enrolled profiles.
type Profiles interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
	Enroll(ctx context.Context, userID string, samples []face.Description) (profile.Profile, error)
}

// Images stores enrollment images.
type Images interface {
	Upload(ctx context.Context, r io.Reader) (*cloudinary.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

// Publisher enqueues background jobs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler holds the route dependencies. Images may be nil when image storage
// is not configured.
type Handler struct {
	Marker   Marker
	Records  Records
	Profiles Profiles
	Images   Images
	Queue    Publisher
	Health   map[string]HealthCheck
	Metrics  *metrics.Recorder
	Log      logger.Logger
}

// Register mounts every route on r. authn resolves the caller identity;
// limit runs after it so limits are keyed per user.
func (h *Handler) Register(r gin.IRouter, authn, limit gin.HandlerFunc) {
	if h.Log == nil {
		h.Log = logger.Nop()
	}
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", authn, limit)
	v1.POST("/attendance/mark", h.mark)
	v1.GET("/attendance/today", h.today)
	v1.GET("/attendance/me", h.listMine)
	v1.GET("/attendance", auth.RequireAdmin(), h.listAll)
	v1.GET("/attendance/users/:userId", auth.RequireAdmin(), h.listUser)

	v1.GET("/profile", h.getProfile)
	v1.PUT("/profile", h.putProfile)
	v1.POST("/profile/image", h.uploadProfileImage)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) mark(c *gin.Context) {
	id, _ := auth.FromContext(c)
	req := checkin.MarkRequest{UserID: id.UserID}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("image")
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart body"})
			return
		}
		if file != nil {
			defer file.Close()
			req.Image = file
		}
	} else {
		var body struct {
			Sample *face.Description `json:"sample"`
		}
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Sample = body.Sample
	}

	resp, err := h.Marker.Mark(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) today(c *gin.Context) {
	id, _ := auth.FromContext(c)
	rec, err := h.Records.Today(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec, "state": rec.State().String()})
}

func (h *Handler) listMine(c *gin.Context) {
	id, _ := auth.FromContext(c)
	h.list(c, id.UserID)
}

func (h *Handler) listAll(c *gin.Context) {
	h.list(c, c.Query("user_id"))
}

func (h *Handler) listUser(c *gin.Context) {
	h.list(c, c.Param("userId"))
}

func (h *Handler) list(c *gin.Context, userID string) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	recs, err := h.Records.List(c.Request.Context(), attendance.ListFilter{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) getProfile(c *gin.Context) {
	id, _ := auth.FromContext(c)
	p, err := h.Profiles.Get(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    p.UserID,
		"enrolled":  p.Enrolled(),
		"samples":   len(p.Samples),
		"imageUrl":  p.ImageURL,
		"updatedAt": p.UpdatedAt,
	})
}

func (h *Handler) putProfile(c *gin.Context) {
	id, _ := auth.FromContext(c)
	var body struct {
		Samples []face.Description `json:"samples" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Profiles.Enroll(c.Request.Context(), id.UserID, body.Samples)
	h.Metrics.Enrollment("samples", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": p.UserID, "samples": len(p.Samples), "updatedAt": p.UpdatedAt})
}

func (h *Handler) uploadProfileImage(c *gin.Context) {
	if h.Images == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	id, _ := auth.FromContext(c)
	file, hdr, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field required"})
		return
	}
	defer file.Close()
	if hdr.Size > tempimage.MaxImageBytes {
		h.writeError(c, checkin.ErrImageTooLarge)
		return
	}

	ctx := c.Request.Context()
	res, err := h.Images.Upload(ctx, file)
	if err != nil {
		h.Log.Error(ctx, "enrollment image upload failed", logger.String("user_id", id.UserID), logger.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	msg, err := queue.NewMessage(queue.TypeProfileEnroll, queue.EnrollJob{
		UserID:   id.UserID,
		ImageURL: res.SecureURL,
		PublicID: res.PublicID,
	})
	if err == nil {
		err = h.Queue.Publish(ctx, msg)
	}
	if err != nil {
		h.Log.Error(ctx, "enroll job publish failed", logger.String("user_id", id.UserID), logger.Err(err))
		if derr := h.Images.Destroy(ctx, res.PublicID); derr != nil {
			h.Log.Warn(ctx, "orphaned enrollment image", logger.String("public_id", res.PublicID), logger.Err(derr))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment could not be queued"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "processing",
		"imageUrl": res.SecureURL,
		"publicId": res.PublicID,
	})
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, checkin.ErrInputMissing):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, checkin.ErrImageTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, profile.ErrNoSamples):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, face.ErrNoFaceDetected):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, profile.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		h.Log.Error(c.Request.Context(), "request failed", logger.String("path", c.FullPath()), logger.Err(err))
	}
	c.JSON(status, gin.H{"error": msg})
}
