package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/auth"
)

// idleAfter is how long a full bucket may sit unused before it is dropped.
const idleAfter = 10 * time.Minute

// SimpleTokenBucket is an in-memory per-caller rate limiter. Limits are per
// process; replicas each hold their own buckets.
type SimpleTokenBucket struct {
	capacity float64
	perSec   float64
	now      func() time.Time

	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware returns gin handler enforcing per-caller limits. Authenticated
// callers are keyed by user id, everyone else by client IP.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.take(clientKey(c))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if id, ok := auth.FromContext(c); ok {
		return "user:" + id.UserID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

func (l *SimpleTokenBucket) allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take spends one token for key. When none is left it reports how long until
// the next one refills.
func (l *SimpleTokenBucket) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.perSec)
		b.last = now
	}
	if b.tokens < 1 {
		missing := 1 - b.tokens
		return false, time.Duration(missing / l.perSec * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets idle long enough to have refilled completely. Caller
// holds l.mu.
func (l *SimpleTokenBucket) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleAfter {
		return
	}
	l.lastSweep = now
	for key, b := range l.state {
		if now.Sub(b.last) >= idleAfter {
			delete(l.state, key)
		}
	}
}

// Len returns the number of tracked callers.
func (l *SimpleTokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
