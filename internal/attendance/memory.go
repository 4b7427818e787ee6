package attendance

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// lockStripes is the number of mutexes writes are spread over.
const lockStripes = 64

// MemoryStore keeps records in process memory. Writes for one (user, day) are
// serialised by one of a fixed set of striped mutexes, so keys on other
// stripes proceed in parallel and the lock set never grows.
type MemoryStore struct {
	locks [lockStripes]sync.Mutex

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func recordKey(userID string, day time.Time) string {
	return userID + "|" + day.Format(time.DateOnly)
}

func (m *MemoryStore) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.locks[h.Sum32()%lockStripes]
}

// ApplyMatch implements Store.
func (m *MemoryStore) ApplyMatch(_ context.Context, userID string, day, at time.Time) (Record, Transition, error) {
	key := recordKey(userID, day)
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()

	var tr Transition
	switch {
	case !ok:
		ts := at
		rec = Record{
			ID:        uuid.NewString(),
			UserID:    userID,
			Date:      day,
			Status:    StatusPresent,
			CheckIn:   &ts,
			CreatedAt: at,
			UpdatedAt: at,
		}
		tr = TransitionCheckIn
	case rec.CheckOut == nil:
		ts := at
		rec.CheckOut = &ts
		rec.UpdatedAt = at
		tr = TransitionCheckOut
	default:
		return rec, TransitionAlreadyMarked, nil
	}

	m.mu.Lock()
	m.records[key] = rec
	m.mu.Unlock()
	return rec, tr, nil
}

// FindRecord implements Store.
func (m *MemoryStore) FindRecord(_ context.Context, userID string, day time.Time) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(userID, day)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListRecords implements Store.
func (m *MemoryStore) ListRecords(_ context.Context, f ListFilter) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].UserID < out[j].UserID
	})

	if f.Offset >= len(out) {
		return []Record{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
