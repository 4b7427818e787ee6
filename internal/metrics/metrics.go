// Package metrics exposes Prometheus collectors for verification and
// enrollment.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder groups the service collectors. The zero value of *Recorder (nil)
// records nothing.
type Recorder struct {
	matches     *prometheus.CounterVec
	confidence  *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	cache       *prometheus.CounterVec
	enrollments *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_verifications_total",
			Help: "Verification attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		confidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceattend_match_confidence",
			Help:    "Confidence (0-100) of decided verifications.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"strategy"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_ledger_transitions_total",
			Help: "Attendance ledger transitions applied on positive matches.",
		}, []string{"transition"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_descriptor_cache_total",
			Help: "Descriptor cache lookups by result.",
		}, []string{"result"}),
		enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_enrollments_total",
			Help: "Profile enrollments by source and result.",
		}, []string{"source", "result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceattend_verification_seconds",
			Help:    "End-to-end verification latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Verification records one finished verification attempt.
func (r *Recorder) Verification(strategy, outcome string, confidence float64, took time.Duration) {
	if r == nil {
		return
	}
	r.matches.WithLabelValues(strategy, outcome).Inc()
	if outcome == "matched" || outcome == "not_matched" {
		r.confidence.WithLabelValues(strategy).Observe(confidence)
	}
	r.duration.Observe(took.Seconds())
}

// Transition records a ledger transition.
func (r *Recorder) Transition(name string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(name).Inc()
}

// CacheLookup records a descriptor cache hit or miss.
func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cache.WithLabelValues(result).Inc()
}

// Enrollment records an enrollment by source (samples, image).
func (r *Recorder) Enrollment(source string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.enrollments.WithLabelValues(source, result).Inc()
}
