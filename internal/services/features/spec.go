package features

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Spec lists the windows to compute. Every window produces one named
// indicator, or a null when history is too short.
type Spec struct {
	SMA         []int
	EMA         []int
	RSI         []int
	VolumeRatio []int
	Momentum    []int
	Volatility  []int
	ATR         []int
	Bollinger   int
	MACD        bool
}

// DefaultSpec is the technical_v1 base set.
func DefaultSpec() Spec {
	return Spec{
		SMA:         []int{10, 20, 50},
		EMA:         []int{12, 26},
		RSI:         []int{14},
		VolumeRatio: []int{20},
		Momentum:    []int{5, 10},
		Volatility:  []int{20},
		ATR:         []int{14},
		Bollinger:   20,
		MACD:        true,
	}
}

// Merge returns the union of both specs with sorted, de-duplicated windows.
func (s Spec) Merge(o Spec) Spec {
	bb := s.Bollinger
	if o.Bollinger > bb {
		bb = o.Bollinger
	}
	return Spec{
		SMA:         union(s.SMA, o.SMA),
		EMA:         union(s.EMA, o.EMA),
		RSI:         union(s.RSI, o.RSI),
		VolumeRatio: union(s.VolumeRatio, o.VolumeRatio),
		Momentum:    union(s.Momentum, o.Momentum),
		Volatility:  union(s.Volatility, o.Volatility),
		ATR:         union(s.ATR, o.ATR),
		Bollinger:   bb,
		MACD:        s.MACD || o.MACD,
	}
}

// MaxLookback is the number of bars needed for every indicator to be non-null.
func (s Spec) MaxLookback() int {
	m := s.Bollinger
	for _, ws := range [][]int{s.SMA, s.EMA, s.VolumeRatio} {
		for _, w := range ws {
			m = max(m, w)
		}
	}
	for _, ws := range [][]int{s.RSI, s.Momentum, s.Volatility, s.ATR} {
		for _, w := range ws {
			m = max(m, w+1)
		}
	}
	if s.MACD {
		m = max(m, macdSlow+macdSignal-1)
	}
	return m
}

// SpecFromNames parses indicator names such as sma_10, rsi_14,
// volume_ratio_20, momentum_5d and volatility_20d into a Spec.
func SpecFromNames(names []string) (Spec, error) {
	var s Spec
	for _, name := range names {
		prefix, n, err := splitName(name)
		if err != nil {
			return Spec{}, err
		}
		switch prefix {
		case "sma":
			s.SMA = append(s.SMA, n)
		case "ema":
			s.EMA = append(s.EMA, n)
		case "rsi":
			s.RSI = append(s.RSI, n)
		case "volume_ratio":
			s.VolumeRatio = append(s.VolumeRatio, n)
		case "momentum":
			s.Momentum = append(s.Momentum, n)
		case "volatility":
			s.Volatility = append(s.Volatility, n)
		case "atr":
			s.ATR = append(s.ATR, n)
		default:
			return Spec{}, fmt.Errorf("unknown indicator %q", name)
		}
	}
	return s.Merge(Spec{}), nil
}

func splitName(name string) (string, int, error) {
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", 0, fmt.Errorf("indicator %q has no window", name)
	}
	num := strings.TrimSuffix(name[i+1:], "d")
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("indicator %q has invalid window", name)
	}
	return name[:i], n, nil
}

// Indicator name helpers keep producers and consumers in agreement.
func SMAName(n int) string         { return "sma_" + strconv.Itoa(n) }
func EMAName(n int) string         { return "ema_" + strconv.Itoa(n) }
func RSIName(n int) string         { return "rsi_" + strconv.Itoa(n) }
func VolumeRatioName(n int) string { return "volume_ratio_" + strconv.Itoa(n) }
func VolumeSMAName(n int) string   { return "volume_sma_" + strconv.Itoa(n) }
func MomentumName(n int) string    { return "momentum_" + strconv.Itoa(n) + "d" }
func VolatilityName(n int) string  { return "volatility_" + strconv.Itoa(n) + "d" }
func ATRName(n int) string         { return "atr_" + strconv.Itoa(n) }

func union(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, xs := range [][]int{a, b} {
		for _, x := range xs {
			if _, ok := seen[x]; ok || x <= 0 {
				continue
			}
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}
