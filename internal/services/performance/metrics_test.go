package performance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func trades(returns ...float64) []models.TradeOutcome {
	out := make([]models.TradeOutcome, len(returns))
	for i, r := range returns {
		out[i] = models.TradeOutcome{Symbol: "AAPL", Date: day0.AddDate(0, 0, i), Kind: models.SignalBuy, Confidence: 0.5, Return: r}
	}
	return out
}

func TestOutcome(t *testing.T) {
	target := 110.0
	buy := models.SignalRecord{ID: 1, Symbol: "AAPL", Kind: models.SignalBuy, TargetPrice: &target}
	o, ok := Outcome(buy, 100, 105)
	require.True(t, ok)
	assert.InDelta(t, 0.05, o.Return, 1e-12)
	require.NotNil(t, o.ExpectedReturn)
	assert.InDelta(t, 0.10, *o.ExpectedReturn, 1e-12)

	sell := models.SignalRecord{ID: 2, Symbol: "AAPL", Kind: models.SignalSell}
	o, ok = Outcome(sell, 100, 105)
	require.True(t, ok)
	assert.InDelta(t, -0.05, o.Return, 1e-12)
	assert.Nil(t, o.ExpectedReturn)

	_, ok = Outcome(models.SignalRecord{Kind: models.SignalHold}, 100, 105)
	assert.False(t, ok)
	_, ok = Outcome(buy, 0, 105)
	assert.False(t, ok)
}

func TestEvaluateNoTrades(t *testing.T) {
	_, ok := Evaluate(nil)
	assert.False(t, ok)
}

func TestEvaluateMetrics(t *testing.T) {
	r, ok := Evaluate(trades(0.02, -0.01, 0.03, -0.02))
	require.True(t, ok)

	assert.Equal(t, 4, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.InDelta(t, 0.02, r.TotalReturn, 1e-12)
	assert.InDelta(t, 0.005, r.AvgReturn, 1e-12)
	assert.InDelta(t, 0.5, r.WinRate, 1e-12)
	assert.InDelta(t, 0.025, r.AvgWin, 1e-12)
	assert.InDelta(t, -0.015, r.AvgLoss, 1e-12)
	assert.InDelta(t, 0.05/0.03, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.0025, r.ConfidenceWeightedReturn, 1e-12)
	// cumsum 0.02, 0.01, 0.04, 0.02
	assert.InDelta(t, -0.02, r.MaxDrawdown, 1e-12)
	assert.Greater(t, r.Volatility, 0.0)
	assert.InDelta(t, r.AvgReturn/r.Volatility*math.Sqrt(252), r.Sharpe, 1e-9)
	assert.Greater(t, r.Sortino, 0.0)
	assert.Zero(t, r.PredictionAccuracy)
}

func TestEvaluateEdgeCases(t *testing.T) {
	r, ok := Evaluate(trades(0.01, 0.01))
	require.True(t, ok)
	assert.Zero(t, r.Sharpe)
	assert.Equal(t, MaxProfitFactor, r.ProfitFactor)
	assert.Zero(t, r.MaxDrawdown)

	r, ok = Evaluate(trades(-0.01))
	require.True(t, ok)
	assert.Zero(t, r.ProfitFactor)
	assert.Zero(t, r.WinRate)
}

func TestEvaluatePredictionAccuracy(t *testing.T) {
	in := trades(0.04, -0.02)
	e1, e2 := 0.05, 0.01
	in[0].ExpectedReturn = &e1
	in[1].ExpectedReturn = &e2

	r, ok := Evaluate(in)
	require.True(t, ok)
	// mean error (0.01+0.03)/2 = 0.02, mean |actual| = 0.03
	assert.InDelta(t, 1-0.02/0.03, r.PredictionAccuracy, 1e-9)
}

func TestEvaluateOrdersByDate(t *testing.T) {
	in := trades(-0.05, 0.05)
	in[0].Date, in[1].Date = in[1].Date, in[0].Date

	r, _ := Evaluate(in)
	// chronological: +0.05 then -0.05
	assert.InDelta(t, -0.05, r.MaxDrawdown, 1e-12)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, MaxDrawdown(nil))
	assert.InDelta(t, -0.02, MaxDrawdown([]float64{-0.01, -0.02, 0.05}), 1e-12)
	assert.InDelta(t, -0.04, MaxDrawdown([]float64{0.1, -0.04, 0.02}), 1e-12)
}
