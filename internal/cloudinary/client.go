// Package cloudinary stores enrollment images in Cloudinary.
package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// ErrNotConfigured is returned when credentials are missing.
var ErrNotConfigured = errors.New("cloudinary not configured")

// uploadAPI is the part of the SDK's upload API the client uses.
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Client uploads and deletes images.
type Client struct {
	api    uploadAPI
	Folder string
}

// UploadResult holds the fields of a successful upload the service keeps.
type UploadResult struct {
	PublicID  string
	SecureURL string
	Format    string
	Width     int
	Height    int
	Bytes     int
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) (*Client, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, ErrNotConfigured
	}
	c, err := cld.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &Client{api: &c.Upload, Folder: folder}, nil
}

// Upload stores an image read from r.
func (c *Client) Upload(ctx context.Context, r io.Reader) (*UploadResult, error) {
	resp, err := c.api.Upload(ctx, r, uploader.UploadParams{
		Folder:       c.Folder,
		ResourceType: "image",
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary: upload failed: %w", err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary: upload failed: %s", resp.Error.Message)
	}
	return &UploadResult{
		PublicID:  resp.PublicID,
		SecureURL: resp.SecureURL,
		Format:    resp.Format,
		Width:     resp.Width,
		Height:    resp.Height,
		Bytes:     resp.Bytes,
	}, nil
}

// Destroy deletes an image by public id. An image that is already gone is
// not an error.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	if publicID == "" {
		return nil
	}
	resp, err := c.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cloudinary: destroy %s: %w", publicID, err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary: destroy %s: %s", publicID, resp.Error.Message)
	}
	if resp.Result != "ok" && resp.Result != "not found" {
		return fmt.Errorf("cloudinary: destroy %s: %s", publicID, resp.Result)
	}
	return nil
}

// PublicIDFromURL derives the public id from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v1712/attendance/u1.jpg
// (attendance/u1). It returns "" when the URL is not a Cloudinary upload URL.
func PublicIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	start := -1
	for i, p := range parts {
		if p == "upload" {
			start = i + 1
			break
		}
	}
	if start < 0 || start >= len(parts) {
		return ""
	}
	if isVersion(parts[start]) {
		start++
	}
	id := strings.Join(parts[start:], "/")
	if dot := strings.LastIndex(id, "."); dot > strings.LastIndex(id, "/") {
		id = id[:dot]
	}
	return id
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
