package strategy

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/service"
	"QuantPipe/internal/services/features"
)

// Momentum is the enhanced moving-average crossover rule with RSI, volume
// and momentum confirmation.
type Momentum struct {
	name   string
	params MomentumParams

	shortKey, longKey string
	rsiKey            string
	volumeKey         string
	momentumKey       string
	volatilityKey     string
}

// NewMomentum builds the rule for a named model.
func NewMomentum(name string, p MomentumParams) *Momentum {
	return &Momentum{
		name:          name,
		params:        p,
		shortKey:      features.SMAName(p.ShortWindow),
		longKey:       features.SMAName(p.LongWindow),
		rsiKey:        features.RSIName(p.RSIPeriod),
		volumeKey:     features.VolumeRatioName(p.VolumePeriod),
		momentumKey:   features.MomentumName(p.MomentumPeriod),
		volatilityKey: features.VolatilityName(p.VolatilityLookback),
	}
}

var _ service.Strategy = (*Momentum)(nil)

func (m *Momentum) Name() string { return m.name }

// Params returns the parsed parameters.
func (m *Momentum) Params() MomentumParams { return m.params }

func (m *Momentum) RequiredFeatures() []string {
	return []string{m.shortKey, m.longKey, m.rsiKey, m.volumeKey, m.momentumKey, m.volatilityKey}
}

// Evaluate returns ok=false when there is no crossover or a required input
// is null. A crossover that fails the filters yields a hold decision.
func (m *Momentum) Evaluate(w service.FeatureWindow) (service.Decision, bool) {
	short, ok1 := w.Current.Get(m.shortKey)
	long, ok2 := w.Current.Get(m.longKey)
	prevShort, ok3 := w.Previous.Get(m.shortKey)
	prevLong, ok4 := w.Previous.Get(m.longKey)
	rsi, ok5 := w.Current.Get(m.rsiKey)
	vr, ok6 := w.Current.Get(m.volumeKey)
	mom, ok7 := w.Current.Get(m.momentumKey)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) || long <= 0 {
		return service.Decision{}, false
	}

	var direction models.SignalKind
	switch {
	case prevShort <= prevLong && short > long:
		direction = models.SignalBuy
	case prevShort >= prevLong && short < long:
		direction = models.SignalSell
	default:
		return service.Decision{}, false
	}
	sign := direction.Direction()

	p := m.params
	factors := make([]float64, 0, 4)
	confirmations := 0

	if rsi >= p.RSILower && rsi <= p.RSIUpper {
		confirmations++
		factors = append(factors, 1-math.Abs(rsi-50)/50)
	} else {
		factors = append(factors, 0.2)
	}
	if vr >= p.MinVolumeRatio {
		confirmations++
		factors = append(factors, math.Min(vr/2, 1))
	} else {
		factors = append(factors, 0.3)
	}
	if mom*sign > 0 {
		confirmations++
		factors = append(factors, math.Min(math.Abs(mom)*10, 1))
	} else {
		factors = append(factors, 0.4)
	}
	vol, hasVol := w.Current.Get(m.volatilityKey)
	if hasVol && vol > 0 {
		factors = append(factors, volatilityFactor(vol))
	}

	confidence := clamp01(stat.Mean(factors, nil))
	strength := math.Min(1, math.Abs(short-long)/long/p.StrengthScale)

	size := p.MaxPositionSize * confidence
	if hasVol && vol > 0.3 {
		size *= math.Max(0.3, 1-(vol-0.3)/0.5)
	}
	size = math.Min(size, p.MaxPositionSize)

	metadata := map[string]interface{}{
		"short_sma":     short,
		"long_sma":      long,
		"rsi":           rsi,
		"volume_ratio":  vr,
		"momentum":      mom,
		"confirmations": confirmations,
		"crossover":     string(direction),
	}
	if hasVol {
		metadata["volatility"] = vol
	}

	kind := direction
	if confirmations < 2 || confidence < p.MinConfidence {
		kind = models.SignalHold
		size = 0
	}

	d := service.Decision{
		Kind:         kind,
		Strength:     strength,
		Confidence:   confidence,
		PositionSize: size,
		Metadata:     metadata,
	}
	if kind != models.SignalHold && w.Close > 0 {
		target := w.Close * (1 + sign*math.Abs(mom))
		d.TargetPrice = &target
	}
	return d, true
}

func volatilityFactor(vol float64) float64 {
	if vol > 0.2 {
		return math.Max(0.3, 1-(vol-0.2)/0.3)
	}
	return 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
