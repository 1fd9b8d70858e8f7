// Package performance turns resolved signals into per-model trading metrics
// and ranks models against each other.
package performance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"QuantPipe/internal/domain/models"
)

const (
	tradingDaysPerYear = 252

	// MaxProfitFactor stands in for an infinite profit factor.
	MaxProfitFactor = 999.9999
)

// Outcome prices one signal. ok is false for hold signals and when either
// price is unusable.
func Outcome(sig models.SignalRecord, entry, exit float64) (models.TradeOutcome, bool) {
	dir := sig.Kind.Direction()
	if dir == 0 || entry <= 0 || exit <= 0 {
		return models.TradeOutcome{}, false
	}
	o := models.TradeOutcome{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Date:       sig.Date,
		Kind:       sig.Kind,
		Confidence: sig.Confidence,
		EntryPrice: entry,
		ExitPrice:  exit,
		Return:     dir * (exit - entry) / entry,
	}
	if sig.TargetPrice != nil && *sig.TargetPrice > 0 {
		expected := dir * (*sig.TargetPrice - entry) / entry
		o.ExpectedReturn = &expected
	}
	return o, true
}

// Evaluate computes the metrics of a trade list. ok is false when there are
// no trades, in which case nothing should be persisted.
func Evaluate(trades []models.TradeOutcome) (models.PerformanceRecord, bool) {
	if len(trades) == 0 {
		return models.PerformanceRecord{}, false
	}
	ordered := make([]models.TradeOutcome, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].Symbol < ordered[j].Symbol
	})

	returns := make([]float64, len(ordered))
	weighted := make([]float64, len(ordered))
	var (
		wins, losses        []float64
		grossWin, grossLoss float64
		predErr, absActual  float64
		withTarget          int
	)
	for i, t := range ordered {
		returns[i] = t.Return
		weighted[i] = t.Return * t.Confidence
		if t.Return > 0 {
			wins = append(wins, t.Return)
			grossWin += t.Return
		} else if t.Return < 0 {
			losses = append(losses, t.Return)
			grossLoss += t.Return
		}
		if t.ExpectedReturn != nil {
			withTarget++
			predErr += math.Abs(*t.ExpectedReturn - t.Return)
			absActual += math.Abs(t.Return)
		}
	}

	r := models.PerformanceRecord{
		TotalTrades:              len(ordered),
		WinningTrades:            len(wins),
		TotalReturn:              floats.Sum(returns),
		AvgReturn:                stat.Mean(returns, nil),
		WinRate:                  float64(len(wins)) / float64(len(ordered)),
		ConfidenceWeightedReturn: stat.Mean(weighted, nil),
		MaxDrawdown:              MaxDrawdown(returns),
	}
	if len(wins) > 0 {
		r.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		r.AvgLoss = stat.Mean(losses, nil)
	}
	if len(returns) > 1 {
		r.Volatility = stat.StdDev(returns, nil)
	}
	if r.Volatility > 0 {
		r.Sharpe = r.AvgReturn / r.Volatility * math.Sqrt(tradingDaysPerYear)
	}
	if len(losses) > 1 {
		if dd := stat.StdDev(losses, nil); dd > 0 {
			r.Sortino = r.AvgReturn / dd * math.Sqrt(tradingDaysPerYear)
		}
	}
	switch {
	case grossLoss < 0:
		r.ProfitFactor = math.Min(grossWin/math.Abs(grossLoss), MaxProfitFactor)
	case grossWin > 0:
		r.ProfitFactor = MaxProfitFactor
	}
	if withTarget > 0 && absActual > 0 {
		r.PredictionAccuracy = 1 - (predErr/float64(withTarget))/(absActual/float64(withTarget))
	}
	return r, true
}

// MaxDrawdown is the deepest fall of the cumulative return below its running
// peak. It is zero or negative.
func MaxDrawdown(returns []float64) float64 {
	var cum, peak, worst float64
	for i, r := range returns {
		cum += r
		if i == 0 || cum > peak {
			peak = cum
		}
		if dd := cum - peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
