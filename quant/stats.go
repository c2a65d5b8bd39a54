package quant

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const TradingDays = 252

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// sampleStd uses ddof=1; fewer than two points gives 0.
func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}

// popStd uses ddof=0.
func popStd(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(x, nil))
}

// Percentile matches numpy's default linear interpolation; p is in [0, 100].
// gonum's stat.Quantile uses a different interpolation rule.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	return percentileSorted(s, p)
}

func percentileSorted(s []float64, p float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(s) {
		hi = len(s) - 1
	}
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

func median(x []float64) float64 { return Percentile(x, 50) }

// MaxDrawdown returns min(cumulative/runningMax - 1) over compounded returns, as a fraction <= 0.
// The running max starts at the first compounded value, not at 1.
func MaxDrawdown(returns []float64) float64 {
	values := make([]float64, len(returns))
	cum := 1.0
	for i, r := range returns {
		cum *= 1 + r
		values[i] = cum
	}
	return ValueDrawdown(values)
}

// ValueDrawdown is MaxDrawdown over a value series.
func ValueDrawdown(values []float64) float64 {
	peak, mdd := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
