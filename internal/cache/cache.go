// Package cache holds face descriptions extracted from enrolled profile
// images, keyed by user id. Each entry remembers the image it came from and
// only answers for that image, so a re-enrolled profile misses even when the
// invalidation ran in another process. Fresh verification samples never go
// here.
package cache

import (
	"context"
	"sync"
	"time"

	"faceattend/internal/face"
)

// DefaultInterval is how often the whole cache is dropped.
const DefaultInterval = time.Hour

// Cache stores extracted profile descriptions per user. Get hits only when
// the entry was set for the same imageURL.
type Cache interface {
	Get(ctx context.Context, userID, imageURL string) ([]face.Description, bool, error)
	Set(ctx context.Context, userID, imageURL string, faces []face.Description) error
	Invalidate(ctx context.Context, userID string) error
	Clear(ctx context.Context) error
}

// Memory is a process-local cache emptied in full once per interval. There is
// no per-entry eviction.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]entry
	interval  time.Duration
	now       func() time.Time
	lastClear time.Time
}

type entry struct {
	ImageURL string             `json:"imageUrl"`
	Faces    []face.Description `json:"faces"`
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithInterval sets the full-clear period.
func WithInterval(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		items:    make(map[string]entry),
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastClear = m.now()
	return m
}

// expire drops everything once the interval has elapsed. Callers hold m.mu.
func (m *Memory) expire() {
	now := m.now()
	if now.Sub(m.lastClear) < m.interval {
		return
	}
	m.items = make(map[string]entry)
	m.lastClear = now
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, userID, imageURL string) ([]face.Description, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()
	e, ok := m.items[userID]
	if !ok || e.ImageURL != imageURL {
		return nil, false, nil
	}
	return append([]face.Description(nil), e.Faces...), true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, userID, imageURL string, faces []face.Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire()
	m.items[userID] = entry{ImageURL: imageURL, Faces: append([]face.Description(nil), faces...)}
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.items, userID)
	m.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]entry)
	m.lastClear = m.now()
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached users.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Run clears the cache every interval until ctx is done. Lazy expiry already
// bounds staleness; Run releases memory for users who are never read again.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.expire()
			m.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, string) ([]face.Description, bool, error) {
	return nil, false, nil
}

func (Nop) Set(context.Context, string, string, []face.Description) error { return nil }
func (Nop) Invalidate(context.Context, string) error                      { return nil }
func (Nop) Clear(context.Context) error                                   { return nil }
