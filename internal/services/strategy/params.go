package strategy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"QuantPipe/internal/domain/models"
)

var validate = validator.New()

// MomentumParams configures the enhanced momentum rule.
type MomentumParams struct {
	ShortWindow        int     `json:"short_window" default:"10" validate:"gt=0,ltfield=LongWindow"`
	LongWindow         int     `json:"long_window" default:"20" validate:"gt=0"`
	RSIPeriod          int     `json:"rsi_period" default:"14" validate:"gt=1"`
	RSILower           float64 `json:"rsi_lower" default:"30" validate:"gte=0,lte=100,ltfield=RSIUpper"`
	RSIUpper           float64 `json:"rsi_upper" default:"70" validate:"gte=0,lte=100"`
	VolumePeriod       int     `json:"volume_period" default:"20" validate:"gt=0"`
	MinVolumeRatio     float64 `json:"min_volume_ratio" default:"1.2" validate:"gte=0"`
	MomentumPeriod     int     `json:"momentum_period" default:"5" validate:"gt=0"`
	VolatilityLookback int     `json:"volatility_lookback" default:"20" validate:"gt=1"`
	MaxPositionSize    float64 `json:"max_position_size" default:"0.05" validate:"gt=0,lte=1"`
	MinConfidence      float64 `json:"min_confidence" default:"0.4" validate:"gte=0,lte=1"`
	StrengthScale      float64 `json:"strength_scale" default:"0.02" validate:"gt=0"`
}

// ParseMomentumParams applies defaults, overlays the stored parameter map
// and validates the result. Unknown keys are ignored.
func ParseMomentumParams(raw map[string]float64) (MomentumParams, error) {
	var p MomentumParams
	if err := defaults.Set(&p); err != nil {
		return p, fmt.Errorf("apply defaults: %w", err)
	}
	if len(raw) > 0 {
		b, err := json.Marshal(raw)
		if err != nil {
			return p, fmt.Errorf("%w: %v", models.ErrInvalidParameters, err)
		}
		if err := json.Unmarshal(b, &p); err != nil {
			return p, fmt.Errorf("%w: %v", models.ErrInvalidParameters, err)
		}
	}
	if err := validate.Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return p, fmt.Errorf("%w: %s failed %s %s", models.ErrInvalidParameters, fe.Field(), fe.Tag(), fe.Param())
		}
		return p, fmt.Errorf("%w: %v", models.ErrInvalidParameters, err)
	}
	return p, nil
}

// Map is the inverse of ParseMomentumParams, used when registering models.
func (p MomentumParams) Map() map[string]float64 {
	return map[string]float64{
		"short_window":        float64(p.ShortWindow),
		"long_window":         float64(p.LongWindow),
		"rsi_period":          float64(p.RSIPeriod),
		"rsi_lower":           p.RSILower,
		"rsi_upper":           p.RSIUpper,
		"volume_period":       float64(p.VolumePeriod),
		"min_volume_ratio":    p.MinVolumeRatio,
		"momentum_period":     float64(p.MomentumPeriod),
		"volatility_lookback": float64(p.VolatilityLookback),
		"max_position_size":   p.MaxPositionSize,
		"min_confidence":      p.MinConfidence,
		"strength_scale":      p.StrengthScale,
	}
}
