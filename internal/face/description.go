// Package face holds the face description model and the similarity decision
// procedure used to verify a fresh capture against an enrolled profile.
package face

import "errors"

// ErrNoFaceDetected is returned when an extractor finds no face in an image.
var ErrNoFaceDetected = errors.New("no face detected")

// Landmark keys compared by the landmark strategy.
const (
	LeftEye              = "leftEyePosition"
	RightEye             = "rightEyePosition"
	Nose                 = "nosePosition"
	MouthLeft            = "mouthLeftPosition"
	MouthRight           = "mouthRightPosition"
	LeftEyebrowUpperMid  = "leftEyebrowUpperMidPosition"
	RightEyebrowUpperMid = "rightEyebrowUpperMidPosition"
	LeftEar              = "leftEarPosition"
	RightEar             = "rightEarPosition"
	Chin                 = "chinPosition"
)

// LandmarkKeys is the fixed set of landmarks that take part in scoring.
var LandmarkKeys = []string{
	LeftEye, RightEye, Nose, MouthLeft, MouthRight,
	LeftEyebrowUpperMid, RightEyebrowUpperMid, LeftEar, RightEar, Chin,
}

// Affect signal keys.
const (
	Joy      = "joy"
	Sorrow   = "sorrow"
	Anger    = "anger"
	Surprise = "surprise"
)

// AffectKeys lists the ordinal signals compared by the landmark strategy.
var AffectKeys = []string{Joy, Sorrow, Anger, Surprise}

// Likelihood is a 6-level ordinal affect signal.
type Likelihood string

const (
	Unknown      Likelihood = "UNKNOWN"
	VeryUnlikely Likelihood = "VERY_UNLIKELY"
	Unlikely     Likelihood = "UNLIKELY"
	Possible     Likelihood = "POSSIBLE"
	Likely       Likelihood = "LIKELY"
	VeryLikely   Likelihood = "VERY_LIKELY"
)

var likelihoodScale = []Likelihood{Unknown, VeryUnlikely, Unlikely, Possible, Likely, VeryLikely}

// Index returns the position of l on the ordinal scale, or -1 if l is not a
// recognised level.
func (l Likelihood) Index() int {
	for i, v := range likelihoodScale {
		if v == l {
			return i
		}
	}
	return -1
}

// Point is a 2-D pixel position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose holds head rotation angles in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// Bounds is the face bounding box in pixels.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Description is one detected face. It comes in landmark form (landmarks,
// pose, bounds, affect, confidences) or descriptor form (a fixed-length
// embedding), and a detector may fill both. Absent parts are nil so that
// strategies can tell "missing" from "zero".
type Description struct {
	Landmarks             map[string]Point      `json:"landmarks,omitempty"`
	Pose                  *Pose                 `json:"pose,omitempty"`
	Bounds                *Bounds               `json:"bounds,omitempty"`
	Likelihoods           map[string]Likelihood `json:"likelihoods,omitempty"`
	DetectionConfidence   *float64              `json:"detectionConfidence,omitempty"`
	LandmarkingConfidence *float64              `json:"landmarkingConfidence,omitempty"`
	Descriptor            []float32             `json:"descriptor,omitempty"`
}

// IsEmpty reports whether d carries nothing any strategy could compare.
func (d Description) IsEmpty() bool {
	return len(d.Landmarks) == 0 && d.Pose == nil && d.Bounds == nil &&
		len(d.Likelihoods) == 0 && d.DetectionConfidence == nil &&
		d.LandmarkingConfidence == nil && len(d.Descriptor) == 0
}

// MatchResult is the verdict of comparing two descriptions. Confidence is
// always on a 0-100 scale regardless of strategy.
type MatchResult struct {
	IsMatch    bool               `json:"isMatch"`
	Confidence float64            `json:"confidence"`
	Strategy   Strategy           `json:"strategy,omitempty"`
	Details    map[string]float64 `json:"details,omitempty"`
}

// NoMatch is the zero verdict.
func NoMatch(s Strategy) MatchResult {
	return MatchResult{Strategy: s}
}
