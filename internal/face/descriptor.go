package face

import "math"

// DescriptorScorer matches embeddings by Euclidean distance.
type DescriptorScorer struct {
	threshold float64
}

// NewDescriptorScorer returns a scorer that matches when distance <= threshold.
func NewDescriptorScorer(threshold float64) *DescriptorScorer {
	return &DescriptorScorer{threshold: threshold}
}

func (s *DescriptorScorer) Strategy() Strategy { return StrategyDescriptor }
func (s *DescriptorScorer) Gated() bool        { return true }

// Score implements Scorer. Confidence is 100 at distance 0, 50 at the
// threshold and 0 at twice the threshold or beyond.
func (s *DescriptorScorer) Score(a, b Description) MatchResult {
	d, ok := EuclideanDistance(a.Descriptor, b.Descriptor)
	if !ok {
		return NoMatch(StrategyDescriptor)
	}
	return MatchResult{
		IsMatch:    d <= s.threshold,
		Confidence: clamp(100*(1-d/(2*s.threshold)), 0, 100),
		Strategy:   StrategyDescriptor,
		Details: map[string]float64{
			"distance":  d,
			"threshold": s.threshold,
		},
	}
}

// EuclideanDistance returns the L2 distance between two embeddings. ok is
// false when the vectors are empty or of different length.
func EuclideanDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), true
}
