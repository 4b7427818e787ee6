package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"faceattend/internal/face"
)

// Client calls the face detection microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// mockFace is returned for every image when Skip is set.
func mockFace() face.Description {
	conf := 0.95
	return face.Description{
		Landmarks: map[string]face.Point{
			face.LeftEye:  {X: 120, Y: 140},
			face.RightEye: {X: 180, Y: 140},
			face.Nose:     {X: 150, Y: 175},
		},
		Pose:                &face.Pose{Pitch: 3, Roll: 1, Yaw: 5},
		Bounds:              &face.Bounds{X: 90, Y: 90, Width: 120, Height: 150},
		DetectionConfidence: &conf,
		Descriptor:          []float32{0.1, 0.2, 0.3},
	}
}

type detectResponse struct {
	Faces []face.Description `json:"faces"`
}

// Detect uploads the image file at path and returns the detected faces in the
// order the service reports them. An empty result is face.ErrNoFaceDetected.
func (c *Client) Detect(ctx context.Context, path string) ([]face.Description, error) {
	if c.Skip {
		return []face.Description{mockFace()}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.detect(req)
}

// DetectURL asks the service to fetch and analyse a remote image.
func (c *Client) DetectURL(ctx context.Context, imageURL string) ([]face.Description, error) {
	if c.Skip {
		return []face.Description{mockFace()}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect-url", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.detect(req)
}

func (c *Client) detect(req *http.Request) ([]face.Description, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	faces := out.Faces[:0]
	for _, d := range out.Faces {
		if !d.IsEmpty() {
			faces = append(faces, d)
		}
	}
	if len(faces) == 0 {
		return nil, face.ErrNoFaceDetected
	}
	return faces, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
