package service

import (
	"QuantPipe/internal/domain/models"
)

// FeatureWindow is the pair of feature records a rule evaluates: the target
// date and the previous available date.
type FeatureWindow struct {
	Symbol   string
	Current  models.Indicators
	Previous models.Indicators
	Close    float64
}

// Decision is the outcome of evaluating a rule for one symbol and date.
// Kind is empty when the rule does not fire at all.
type Decision struct {
	Kind         models.SignalKind
	Strength     float64
	Confidence   float64
	PositionSize float64
	TargetPrice  *float64
	Metadata     map[string]interface{}
}

// Strategy evaluates a deterministic rule over precomputed features.
type Strategy interface {
	Name() string
	// RequiredFeatures lists indicator names the rule reads.
	RequiredFeatures() []string
	Evaluate(w FeatureWindow) (Decision, bool)
}
