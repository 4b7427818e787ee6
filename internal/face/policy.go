package face

// DefaultMinConfidence is the threshold applied to continuous scorers.
const DefaultMinConfidence = 70

// Policy turns scorer output into a single verdict for one claimed identity.
type Policy struct {
	scorer        Scorer
	minConfidence float64
}

// NewPolicy wraps scorer. minConfidence (0-100) only applies when the scorer
// is not gated.
func NewPolicy(scorer Scorer, minConfidence float64) *Policy {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Policy{scorer: scorer, minConfidence: minConfidence}
}

// Strategy returns the strategy of the underlying scorer.
func (p *Policy) Strategy() Strategy { return p.scorer.Strategy() }

// Decide scores sample against every stored candidate of the claimed user and
// keeps the highest-confidence result among the matching ones. With no match
// the result carries zero confidence and the details of the closest candidate.
func (p *Policy) Decide(sample Description, candidates []Description) MatchResult {
	best := NoMatch(p.scorer.Strategy())
	closest := -1.0
	for _, c := range candidates {
		r := p.scorer.Score(sample, c)
		if !p.scorer.Gated() {
			r.IsMatch = r.Confidence >= p.minConfidence
		}
		if !r.IsMatch {
			if !best.IsMatch && r.Confidence > closest {
				closest = r.Confidence
				best.Details = r.Details
			}
			continue
		}
		if !best.IsMatch || r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}
