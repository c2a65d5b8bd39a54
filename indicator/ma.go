package indicator

import "gonum.org/v1/gonum/stat"

// SMA is the trailing arithmetic mean; the first window-1 points are undefined.
func SMA(values []float64, window int) Line {
	out := nanLine(len(values))
	if window <= 0 || len(values) < window {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA uses alpha = 2/(span+1), seeded with the first value (pandas adjust=False).
func EMA(values []float64, span int) Line {
	out := nanLine(len(values))
	if span <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	prev := values[0]
	out[0] = prev
	for i := 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RollingStd is the trailing sample standard deviation (ddof=1).
func RollingStd(values []float64, window int) Line {
	out := nanLine(len(values))
	if window < 2 || len(values) < window {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = stat.StdDev(values[i-window+1:i+1], nil)
	}
	return out
}
