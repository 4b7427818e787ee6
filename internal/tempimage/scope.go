// Package tempimage manages the image files a single request writes to disk.
// Every file acquired through a Scope is removed by Scope.Close.
package tempimage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// MaxImageBytes caps uploads and downloads.
const MaxImageBytes = 10 << 20

// ErrNotImage is returned when a download does not carry an image content type.
var ErrNotImage = errors.New("url did not return an image")

// ErrTooLarge is returned when an image exceeds MaxImageBytes.
var ErrTooLarge = errors.New("image too large")

// ErrEmpty is returned for a zero-byte image.
var ErrEmpty = errors.New("empty image")

// Factory opens scopes sharing a directory and HTTP client.
type Factory struct {
	Dir  string
	HTTP *http.Client
}

// NewFactory creates a factory writing under dir (os.TempDir when empty).
func NewFactory(dir string) *Factory {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Factory{Dir: dir, HTTP: &http.Client{Timeout: 20 * time.Second}}
}

// Open starts a new request scope.
func (f *Factory) Open() *Scope {
	return &Scope{dir: f.Dir, http: f.HTTP}
}

// Scope tracks the temp files of one request. Safe for concurrent use.
type Scope struct {
	dir  string
	http *http.Client

	mu     sync.Mutex
	paths  []string
	closed bool
}

// SaveUpload writes r to a new temp file and returns its path.
func (s *Scope) SaveUpload(r io.Reader) (string, error) {
	return s.write(r, ".jpg")
}

// Download fetches url into a new temp file. Non-2xx responses and non-image
// content types fail without leaving a file behind.
func (s *Scope) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("download image: %s", resp.Status)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("%w: content type %q", ErrNotImage, ct)
	}
	return s.write(resp.Body, extension(ct))
}

func (s *Scope) write(r io.Reader, ext string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("temp scope closed")
	}
	s.mu.Unlock()

	path := filepath.Join(s.dir, "faceattend-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, MaxImageBytes+1))
	err = multierr.Append(err, f.Close())
	if err == nil && n > MaxImageBytes {
		err = ErrTooLarge
	}
	if err == nil && n == 0 {
		err = ErrEmpty
	}
	if err != nil {
		return "", multierr.Append(fmt.Errorf("write temp image: %w", err), removeIfExists(path))
	}

	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return path, nil
}

// Paths returns the files currently held by the scope.
func (s *Scope) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// Close removes every file of the scope. All removals are attempted; their
// errors are combined. Close is idempotent.
func (s *Scope) Close() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.closed = true
	s.mu.Unlock()

	var err error
	for _, p := range paths {
		err = multierr.Append(err, removeIfExists(p))
	}
	return err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func extension(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
