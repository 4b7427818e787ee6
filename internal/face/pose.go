package face

import "math"

// Share of the 100-point confidence budget per tolerance group.
const (
	angleShare    = 33
	sizeShare     = 33
	positionShare = 34
)

// PoseScorer gates on pose angle and bounding box tolerances. Every
// comparable group must be within its tolerance for IsMatch; confidence is
// computed separately from the average deviations and may be low even when
// the gate passes.
type PoseScorer struct {
	angleTol    float64
	sizeTol     float64
	positionTol float64
}

// NewPoseScorer returns a gated scorer with the given tolerances (degrees,
// pixels, pixels).
func NewPoseScorer(angleTol, sizeTol, positionTol float64) *PoseScorer {
	return &PoseScorer{angleTol: angleTol, sizeTol: sizeTol, positionTol: positionTol}
}

func (s *PoseScorer) Strategy() Strategy { return StrategyPose }
func (s *PoseScorer) Gated() bool        { return true }

// Score implements Scorer.
func (s *PoseScorer) Score(a, b Description) MatchResult {
	var penalty, used float64
	within := true
	details := map[string]float64{}

	if a.Pose != nil && b.Pose != nil {
		dp := math.Abs(a.Pose.Pitch - b.Pose.Pitch)
		dr := math.Abs(a.Pose.Roll - b.Pose.Roll)
		dy := math.Abs(a.Pose.Yaw - b.Pose.Yaw)
		within = within && dp <= s.angleTol && dr <= s.angleTol && dy <= s.angleTol
		avg := (dp + dr + dy) / 3
		penalty += avg / s.angleTol * angleShare
		used += angleShare
		details["angleDiff"] = avg
	}

	if a.Bounds != nil && b.Bounds != nil {
		dh := math.Abs(a.Bounds.Height - b.Bounds.Height)
		dw := math.Abs(a.Bounds.Width - b.Bounds.Width)
		within = within && dh <= s.sizeTol && dw <= s.sizeTol
		avgSize := (dh + dw) / 2
		penalty += avgSize / s.sizeTol * sizeShare
		used += sizeShare
		details["sizeDiff"] = avgSize

		dx := math.Abs(a.Bounds.X - b.Bounds.X)
		dy := math.Abs(a.Bounds.Y - b.Bounds.Y)
		within = within && dx <= s.positionTol && dy <= s.positionTol
		avgPos := (dx + dy) / 2
		penalty += avgPos / s.positionTol * positionShare
		used += positionShare
		details["positionDiff"] = avgPos
	}

	if used == 0 {
		return NoMatch(StrategyPose)
	}

	return MatchResult{
		IsMatch:    within,
		Confidence: clamp(100-penalty*100/used, 0, 100),
		Strategy:   StrategyPose,
		Details:    details,
	}
}
