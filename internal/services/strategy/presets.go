package strategy

import (
	"fmt"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/service"
)

// Preset model names registered at startup.
const (
	PresetV1           = "enhanced_momentum_v1"
	PresetAggressive   = "enhanced_momentum_aggressive"
	PresetConservative = "enhanced_momentum_conservative"

	presetVersion = "1.0"
)

// Presets returns the built-in momentum models in registration order.
func Presets() []models.Model {
	params := []struct {
		name string
		p    MomentumParams
	}{
		{PresetV1, MomentumParams{
			ShortWindow: 10, LongWindow: 20,
			RSIPeriod: 14, RSILower: 30, RSIUpper: 70,
			VolumePeriod: 20, MinVolumeRatio: 1.2,
			MomentumPeriod: 5, VolatilityLookback: 20,
			MaxPositionSize: 0.05, MinConfidence: 0.4, StrengthScale: 0.02,
		}},
		{PresetAggressive, MomentumParams{
			ShortWindow: 5, LongWindow: 15,
			RSIPeriod: 14, RSILower: 25, RSIUpper: 75,
			VolumePeriod: 10, MinVolumeRatio: 1.0,
			MomentumPeriod: 3, VolatilityLookback: 10,
			MaxPositionSize: 0.08, MinConfidence: 0.3, StrengthScale: 0.02,
		}},
		{PresetConservative, MomentumParams{
			ShortWindow: 15, LongWindow: 30,
			RSIPeriod: 21, RSILower: 35, RSIUpper: 65,
			VolumePeriod: 30, MinVolumeRatio: 1.5,
			MomentumPeriod: 10, VolatilityLookback: 30,
			MaxPositionSize: 0.03, MinConfidence: 0.6, StrengthScale: 0.02,
		}},
	}

	out := make([]models.Model, 0, len(params))
	for _, x := range params {
		out = append(out, models.Model{
			Name:       x.name,
			Version:    presetVersion,
			Type:       models.ModelTypeMomentum,
			Parameters: x.p.Map(),
			Active:     true,
		})
	}
	return out
}

// FromModel builds the rule for a stored model.
func FromModel(m models.Model) (service.Strategy, error) {
	switch m.Type {
	case models.ModelTypeMomentum, "":
		p, err := ParseMomentumParams(m.Parameters)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		return NewMomentum(m.Name, p), nil
	default:
		return nil, fmt.Errorf("model %s: %w: unknown type %q", m.Name, models.ErrInvalidParameters, m.Type)
	}
}
