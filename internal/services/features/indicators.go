package features

import (
	"sort"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"QuantPipe/internal/domain/models"
)

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bollingerWidth = 2.0
)

// Series is the column view of a date-ordered bar history.
type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewSeries sorts a copy of bars by date and splits it into columns.
func NewSeries(bars []models.MarketBar) Series {
	sorted := make([]models.MarketBar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s := Series{
		Open:   make([]float64, len(sorted)),
		High:   make([]float64, len(sorted)),
		Low:    make([]float64, len(sorted)),
		Close:  make([]float64, len(sorted)),
		Volume: make([]float64, len(sorted)),
	}
	for i, b := range sorted {
		s.Open[i] = b.Open
		s.High[i] = b.High
		s.Low[i] = b.Low
		s.Close[i] = b.Close
		s.Volume[i] = float64(b.Volume)
	}
	return s
}

// Len is the number of bars.
func (s Series) Len() int { return len(s.Close) }

// Compute evaluates spec on the trailing window ending at the last bar.
// Indicators without enough history are present with a null value.
func Compute(bars []models.MarketBar, spec Spec) models.Indicators {
	s := NewSeries(bars)
	out := make(models.Indicators)
	if s.Len() == 0 {
		return out
	}

	for _, n := range spec.SMA {
		put(out, SMAName(n))(SMA(s.Close, n))
	}
	for _, n := range spec.EMA {
		put(out, EMAName(n))(EMA(s.Close, n))
	}
	for _, n := range spec.RSI {
		put(out, RSIName(n))(RSI(s.Close, n))
	}
	for _, n := range spec.ATR {
		put(out, ATRName(n))(ATR(s.High, s.Low, s.Close, n))
	}
	for _, n := range spec.Momentum {
		put(out, MomentumName(n))(Momentum(s.Close, n))
	}
	returns := SimpleReturns(s.Close)
	for _, n := range spec.Volatility {
		put(out, VolatilityName(n))(AnnualizedVolatility(returns, n))
	}
	for _, n := range spec.VolumeRatio {
		avg, ok := SMA(s.Volume, n)
		put(out, VolumeSMAName(n))(avg, ok)
		ratio, rok := 0.0, false
		if ok && avg > 0 {
			ratio, rok = s.Volume[s.Len()-1]/avg, true
		}
		put(out, VolumeRatioName(n))(ratio, rok)
		if n == 20 {
			put(out, "volume_ratio")(ratio, rok)
		}
	}
	if spec.MACD {
		macd, signal, ok := MACD(s.Close)
		put(out, "macd")(macd, ok)
		put(out, "macd_signal")(signal, ok)
		put(out, "macd_histogram")(macd-signal, ok)
	}
	if spec.Bollinger > 0 {
		computeBollinger(out, s.Close, spec.Bollinger)
	}
	return out
}

func computeBollinger(out models.Indicators, closes []float64, n int) {
	names := []string{"bb_middle", "bb_upper", "bb_lower", "bb_position", "bb_width"}
	if n < 2 || len(closes) < n {
		for _, name := range names {
			out.SetNull(name)
		}
		return
	}
	middle, sd := stat.MeanStdDev(closes[len(closes)-n:], nil)
	upper := middle + bollingerWidth*sd
	lower := middle - bollingerWidth*sd
	position := 0.5
	if upper > lower {
		position = (closes[len(closes)-1] - lower) / (upper - lower)
	}
	put(out, "bb_middle")(middle, true)
	put(out, "bb_upper")(upper, true)
	put(out, "bb_lower")(lower, true)
	put(out, "bb_position")(position, true)
	put(out, "bb_width")((upper-lower)/middle, middle != 0)
}

// put returns a setter that stores v, or null when !ok or v is not finite.
func put(out models.Indicators, name string) func(float64, bool) {
	return func(v float64, ok bool) {
		if !ok || !finite(v) {
			out.SetNull(name)
			return
		}
		out.Set(name, v)
	}
}

// SMA is the arithmetic mean of the last n values.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	return stat.Mean(values[len(values)-n:], nil), true
}

// EMA is the talib exponential moving average at the last bar.
func EMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	ema := talib.Ema(values, n)
	return ema[len(ema)-1], true
}

// RSI is the Wilder-smoothed relative strength index. It needs n+1 values.
func RSI(closes []float64, n int) (float64, bool) {
	if n < 2 || len(closes) < n+1 {
		return 0, false
	}
	rsi := talib.Rsi(closes, n)
	return rsi[len(rsi)-1], true
}

// ATR is the Wilder average true range. It needs n+1 bars.
func ATR(high, low, closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}
	atr := talib.Atr(high, low, closes, n)
	return atr[len(atr)-1], true
}

// Momentum is close / close[n bars ago] - 1.
func Momentum(closes []float64, n int) (float64, bool) {
	if n <= 0 || len(closes) < n+1 {
		return 0, false
	}
	base := closes[len(closes)-1-n]
	if base == 0 {
		return 0, false
	}
	return closes[len(closes)-1]/base - 1, true
}

// MACD returns the 12/26 MACD line and its 9-period EMA signal line.
func MACD(closes []float64) (macd, signal float64, ok bool) {
	if len(closes) < macdSlow+macdSignal-1 {
		return 0, 0, false
	}
	fast := talib.Ema(closes, macdFast)
	slow := talib.Ema(closes, macdSlow)
	line := make([]float64, 0, len(closes)-macdSlow+1)
	for i := macdSlow - 1; i < len(closes); i++ {
		line = append(line, fast[i]-slow[i])
	}
	sig := talib.Ema(line, macdSignal)
	return line[len(line)-1], sig[len(sig)-1], true
}
