package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/auth"
)

func TestAllowRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	if !l.allow("k") || !l.allow("k") {
		t.Fatal("first two requests should pass")
	}
	if l.allow("k") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("other") {
		t.Fatal("other keys have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.allow("k") {
		t.Fatal("one token should refill after a second at 60/min")
	}
}

func TestMiddlewareKeysByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-User"); u != "" {
			auth.WithIdentity(c, auth.Identity{UserID: u})
		}
		c.Next()
	}, l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if user != "" {
			req.Header.Set("X-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("alice"); got != http.StatusOK {
		t.Fatalf("alice first = %d", got)
	}
	if got := do("alice"); got != http.StatusTooManyRequests {
		t.Fatalf("alice second = %d, want 429", got)
	}
	if got := do("bob"); got != http.StatusOK {
		t.Fatalf("bob from the same IP = %d, want 200", got)
	}
	if got := do(""); got != http.StatusOK {
		t.Fatalf("anonymous = %d, want 200", got)
	}
}

func TestRetryAfterAndSweep(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(1, 6)
	l.now = func() time.Time { return now }

	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := do("10.0.0.1:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "10" {
		t.Errorf("Retry-After = %q, want 10 at 6/min", got)
	}

	do("10.0.0.2:1")
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	now = now.Add(idleAfter + time.Second)
	do("10.0.0.3:1")
	if l.Len() != 1 {
		t.Errorf("Len after idle sweep = %d, want 1", l.Len())
	}
}
