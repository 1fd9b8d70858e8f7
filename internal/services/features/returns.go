package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// SimpleReturns computes r_t = C_t / C_{t-1} - 1.
// It returns a slice of length len(closes)-1, or nil if insufficient data.
// A non-positive previous close yields a zero return for that step.
func SimpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/prev-1)
	}
	return out
}

// AnnualizedVolatility is the sample standard deviation of the last window
// returns scaled by sqrt(252). ok is false when fewer than window returns exist.
func AnnualizedVolatility(returns []float64, window int) (float64, bool) {
	if window < 2 || len(returns) < window {
		return 0, false
	}
	sd := stat.StdDev(returns[len(returns)-window:], nil)
	return sd * math.Sqrt(TradingDaysPerYear), finite(sd)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
