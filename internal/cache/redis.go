package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"faceattend/internal/face"
)

const defaultPrefix = "faceattend:descriptors:"

// Redis shares the cache between API replicas. Entries expire after the
// clear interval, so the whole cache turns over at least that often.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis-backed cache. An empty prefix uses the default.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultInterval
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(userID string) string { return r.prefix + userID }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, userID, imageURL string) ([]face.Description, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.ImageURL != imageURL {
		// Corrupt or stale entries miss; the next Set overwrites them.
		return nil, false, nil
	}
	return e.Faces, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, userID, imageURL string, faces []face.Description) error {
	raw, err := json.Marshal(entry{ImageURL: imageURL, Faces: faces})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return r.client.Set(ctx, r.key(userID), raw, r.ttl).Err()
}

// Invalidate implements Cache.
func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}

// Clear implements Cache by scanning the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
