package profile

import (
	"context"
	"sync"

	"faceattend/internal/face"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	p.Samples = append([]face.Description(nil), p.Samples...)
	return p, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, p Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.profiles[p.UserID]; ok {
		p.CreatedAt = prev.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	p.Samples = append([]face.Description(nil), p.Samples...)
	m.profiles[p.UserID] = p
	return p, nil
}
