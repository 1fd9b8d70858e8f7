package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/domain/service"
	"QuantPipe/internal/services/features"
)

func exampleParams(t *testing.T) MomentumParams {
	t.Helper()
	p, err := ParseMomentumParams(map[string]float64{
		"short_window":        1,
		"long_window":         3,
		"rsi_period":          2,
		"rsi_lower":           0,
		"rsi_upper":           100,
		"volume_period":       3,
		"min_volume_ratio":    1.2,
		"momentum_period":     1,
		"volatility_lookback": 3,
		"min_confidence":      0.3,
	})
	require.NoError(t, err)
	return p
}

func exampleBars() []models.MarketBar {
	closes := []float64{100, 102, 101, 105, 107}
	volumes := []int64{1000, 1000, 1000, 2000, 1500}
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	bars := make([]models.MarketBar, len(closes))
	for i := range closes {
		bars[i] = models.MarketBar{
			Symbol: "AAPL", Date: start.AddDate(0, 0, i),
			Open: closes[i], High: closes[i] + 1, Low: closes[i] - 1, Close: closes[i],
			Volume: volumes[i],
		}
	}
	return bars
}

func TestMomentumWorkedExample(t *testing.T) {
	rule := NewMomentum("example", exampleParams(t))
	spec, err := features.SpecFromNames(rule.RequiredFeatures())
	require.NoError(t, err)

	bars := exampleBars()
	type emitted struct {
		day      int
		decision service.Decision
	}
	var got []emitted
	for day := 1; day < len(bars); day++ {
		w := service.FeatureWindow{
			Symbol:   "AAPL",
			Current:  features.Compute(bars[:day+1], spec),
			Previous: features.Compute(bars[:day], spec),
			Close:    bars[day].Close,
		}
		if d, ok := rule.Evaluate(w); ok {
			got = append(got, emitted{day: day + 1, decision: d})
		}
	}

	require.Len(t, got, 1)
	d := got[0].decision
	assert.Equal(t, 4, got[0].day)
	assert.Equal(t, models.SignalBuy, d.Kind)
	assert.Equal(t, 1.0, d.Strength)
	assert.True(t, d.Confidence >= 0.3 && d.Confidence <= 1, "confidence %v", d.Confidence)
	assert.True(t, d.PositionSize > 0 && d.PositionSize <= 0.05)
	require.NotNil(t, d.TargetPrice)
	assert.Greater(t, *d.TargetPrice, 105.0)
	assert.Equal(t, 3, d.Metadata["confirmations"])

	again, ok := rule.Evaluate(service.FeatureWindow{
		Symbol:   "AAPL",
		Current:  features.Compute(bars[:4], spec),
		Previous: features.Compute(bars[:3], spec),
		Close:    105,
	})
	require.True(t, ok)
	assert.Equal(t, d.Confidence, again.Confidence)
	assert.Equal(t, d.Strength, again.Strength)
	assert.Equal(t, d.PositionSize, again.PositionSize)
}

func indicators(kv map[string]float64) models.Indicators {
	out := make(models.Indicators)
	for k, v := range kv {
		out.Set(k, v)
	}
	return out
}

func TestMomentumRules(t *testing.T) {
	p, err := ParseMomentumParams(nil)
	require.NoError(t, err)
	rule := NewMomentum(PresetV1, p)

	tests := []struct {
		name     string
		prev     map[string]float64
		cur      map[string]float64
		fires    bool
		kind     models.SignalKind
		strength float64
	}{
		{
			name:  "no crossover",
			prev:  map[string]float64{"sma_10": 101, "sma_20": 100},
			cur:   map[string]float64{"sma_10": 102, "sma_20": 100, "rsi_14": 50, "volume_ratio_20": 2, "momentum_5d": 0.05},
			fires: false,
		},
		{
			name:     "bearish confirmed",
			prev:     map[string]float64{"sma_10": 100, "sma_20": 100},
			cur:      map[string]float64{"sma_10": 99.5, "sma_20": 100, "rsi_14": 50, "volume_ratio_20": 2, "momentum_5d": -0.2},
			fires:    true,
			kind:     models.SignalSell,
			strength: 0.25,
		},
		{
			name:     "bullish without confirmations holds",
			prev:     map[string]float64{"sma_10": 99, "sma_20": 100},
			cur:      map[string]float64{"sma_10": 101, "sma_20": 100, "rsi_14": 85, "volume_ratio_20": 0.5, "momentum_5d": 0.05},
			fires:    true,
			kind:     models.SignalHold,
			strength: 0.5,
		},
		{
			name:  "null rsi",
			prev:  map[string]float64{"sma_10": 99, "sma_20": 100},
			cur:   map[string]float64{"sma_10": 101, "sma_20": 100, "volume_ratio_20": 2, "momentum_5d": 0.05},
			fires: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := rule.Evaluate(service.FeatureWindow{
				Symbol:   "MSFT",
				Current:  indicators(tt.cur),
				Previous: indicators(tt.prev),
				Close:    100,
			})
			require.Equal(t, tt.fires, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, d.Kind)
			assert.InDelta(t, tt.strength, d.Strength, 1e-9)
			assert.True(t, d.Confidence >= 0 && d.Confidence <= 1)
			if tt.kind == models.SignalHold {
				assert.Nil(t, d.TargetPrice)
				assert.Zero(t, d.PositionSize)
			}
		})
	}
}

func TestMomentumSellTarget(t *testing.T) {
	p, err := ParseMomentumParams(nil)
	require.NoError(t, err)
	d, ok := NewMomentum("m", p).Evaluate(service.FeatureWindow{
		Previous: indicators(map[string]float64{"sma_10": 100, "sma_20": 100}),
		Current:  indicators(map[string]float64{"sma_10": 99, "sma_20": 100, "rsi_14": 50, "volume_ratio_20": 2, "momentum_5d": -0.1, "volatility_20d": 0.1}),
		Close:    50,
	})
	require.True(t, ok)
	require.Equal(t, models.SignalSell, d.Kind)
	require.NotNil(t, d.TargetPrice)
	assert.InDelta(t, 45, *d.TargetPrice, 1e-9)
	// factors 1, 1, 1, 1
	assert.InDelta(t, 1, d.Confidence, 1e-12)
	assert.InDelta(t, 0.05, d.PositionSize, 1e-12)
}

func TestMomentumHighVolatilityShrinksSize(t *testing.T) {
	p, err := ParseMomentumParams(nil)
	require.NoError(t, err)
	d, ok := NewMomentum("m", p).Evaluate(service.FeatureWindow{
		Previous: indicators(map[string]float64{"sma_10": 99, "sma_20": 100}),
		Current:  indicators(map[string]float64{"sma_10": 101, "sma_20": 100, "rsi_14": 50, "volume_ratio_20": 2, "momentum_5d": 0.2, "volatility_20d": 0.55}),
		Close:    100,
	})
	require.True(t, ok)
	require.Equal(t, models.SignalBuy, d.Kind)
	// volatility factor max(0.3, 1-0.35/0.3) = 0.3, confidence = 3.3/4
	assert.InDelta(t, 0.825, d.Confidence, 1e-12)
	assert.InDelta(t, 0.05*0.825*0.5, d.PositionSize, 1e-12)
}
