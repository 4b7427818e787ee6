package face

import "math"

const (
	landmarkWeight = 0.7
	featureWeight  = 0.3
)

// LandmarkScorer compares landmark positions through a logistic falloff and
// blends in affect and confidence signals. It is continuous: IsMatch is left
// false and the policy applies a confidence threshold.
type LandmarkScorer struct {
	k float64
}

// NewLandmarkScorer returns a scorer whose logistic midpoint sits at k pixels.
func NewLandmarkScorer(k float64) *LandmarkScorer {
	return &LandmarkScorer{k: k}
}

func (s *LandmarkScorer) Strategy() Strategy { return StrategyLandmark }
func (s *LandmarkScorer) Gated() bool        { return false }

// closeness maps a pixel distance into (0,1]. The logistic 1/(1+e^(d-k)) is
// scaled so that d=0 gives exactly 1.
func (s *LandmarkScorer) closeness(d float64) float64 {
	return (1 + math.Exp(-s.k)) / (1 + math.Exp(d-s.k))
}

// Score implements Scorer. Only keys present in both descriptions count, and
// the result is renormalised by the weight actually used.
func (s *LandmarkScorer) Score(a, b Description) MatchResult {
	var landmarkSum float64
	var landmarks int
	for _, key := range LandmarkKeys {
		p1, ok1 := a.Landmarks[key]
		p2, ok2 := b.Landmarks[key]
		if !ok1 || !ok2 {
			continue
		}
		landmarkSum += s.closeness(math.Hypot(p1.X-p2.X, p1.Y-p2.Y))
		landmarks++
	}

	maxStep := float64(len(likelihoodScale) - 1)
	var featureSum float64
	var features int
	for _, key := range AffectKeys {
		i1, i2 := a.Likelihoods[key].Index(), b.Likelihoods[key].Index()
		if i1 < 0 || i2 < 0 {
			continue
		}
		featureSum += 1 - math.Abs(float64(i1-i2))/maxStep
		features++
	}
	for _, pair := range [][2]*float64{
		{a.DetectionConfidence, b.DetectionConfidence},
		{a.LandmarkingConfidence, b.LandmarkingConfidence},
	} {
		if pair[0] == nil || pair[1] == nil {
			continue
		}
		featureSum += clamp(1-math.Abs(*pair[0]-*pair[1]), 0, 1)
		features++
	}

	var score, weight float64
	if landmarks > 0 {
		score += landmarkSum / float64(landmarks) * landmarkWeight
		weight += landmarkWeight
	}
	if features > 0 {
		score += featureSum / float64(features) * featureWeight
		weight += featureWeight
	}
	if weight == 0 {
		return NoMatch(StrategyLandmark)
	}

	return MatchResult{
		Confidence: clamp(score/weight*100, 0, 100),
		Strategy:   StrategyLandmark,
		Details: map[string]float64{
			"landmarks": float64(landmarks),
			"features":  float64(features),
		},
	}
}
