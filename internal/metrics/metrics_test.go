package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Verification("descriptor", "matched", 92, 40*time.Millisecond)
	r.Verification("descriptor", "matched", 81, 30*time.Millisecond)
	r.Verification("descriptor", "profile_not_found", 0, time.Millisecond)
	r.Transition("check_in")
	r.CacheLookup(true)
	r.CacheLookup(false)
	r.CacheLookup(false)
	r.Enrollment("image", errors.New("no face"))

	if got := testutil.ToFloat64(r.matches.WithLabelValues("descriptor", "matched")); got != 2 {
		t.Errorf("matched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.cache.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.enrollments.WithLabelValues("image", "error")); got != 1 {
		t.Errorf("enrollment errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.confidence); n != 1 {
		t.Errorf("confidence series = %d, want 1", n)
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Verification("pose", "matched", 50, time.Second)
	r.Transition("check_out")
	r.CacheLookup(true)
	r.Enrollment("samples", nil)
}
