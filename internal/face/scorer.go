package face

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy names a similarity algorithm.
type Strategy string

const (
	StrategyLandmark   Strategy = "landmark"
	StrategyPose       Strategy = "pose"
	StrategyDescriptor Strategy = "descriptor"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyLandmark, StrategyPose, StrategyDescriptor}

// ErrUnknownStrategy is returned for a strategy name that has no scorer.
var ErrUnknownStrategy = errors.New("unknown scorer strategy")

// ParseStrategy maps a configuration value onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Scorer compares two face descriptions. Implementations are pure and
// deterministic.
type Scorer interface {
	Score(a, b Description) MatchResult
	Strategy() Strategy
	// Gated reports whether Score decides IsMatch itself. Continuous
	// scorers leave the verdict to the caller's confidence threshold.
	Gated() bool
}

// Config carries the calibration constants of all strategies.
type Config struct {
	LogisticK           float64
	AngleTolerance      float64
	SizeTolerance       float64
	PositionTolerance   float64
	DescriptorThreshold float64
}

// DefaultConfig returns the recommended calibration.
func DefaultConfig() Config {
	return Config{
		LogisticK:           10,
		AngleTolerance:      15,
		SizeTolerance:       50,
		PositionTolerance:   70,
		DescriptorThreshold: 0.6,
	}
}

// NewScorer builds the scorer for strategy s. Zero calibration values fall
// back to DefaultConfig.
func NewScorer(s Strategy, cfg Config) (Scorer, error) {
	def := DefaultConfig()
	if cfg.LogisticK <= 0 {
		cfg.LogisticK = def.LogisticK
	}
	if cfg.AngleTolerance <= 0 {
		cfg.AngleTolerance = def.AngleTolerance
	}
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = def.SizeTolerance
	}
	if cfg.PositionTolerance <= 0 {
		cfg.PositionTolerance = def.PositionTolerance
	}
	if cfg.DescriptorThreshold <= 0 {
		cfg.DescriptorThreshold = def.DescriptorThreshold
	}

	switch s {
	case StrategyLandmark:
		return NewLandmarkScorer(cfg.LogisticK), nil
	case StrategyPose:
		return NewPoseScorer(cfg.AngleTolerance, cfg.SizeTolerance, cfg.PositionTolerance), nil
	case StrategyDescriptor:
		return NewDescriptorScorer(cfg.DescriptorThreshold), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
