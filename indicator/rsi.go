package indicator

// RSI uses trailing rolling means of gains and losses rather than Wilder smoothing.
// Zero average loss gives 100 when there were gains and 50 when the window was flat.
func RSI(values []float64, window int) Line {
	out := nanLine(len(values))
	if window <= 0 || len(values) <= window {
		return out
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var sumG, sumL float64
	for i := 1; i < len(values); i++ {
		sumG += gains[i]
		sumL += losses[i]
		if i > window {
			sumG -= gains[i-window]
			sumL -= losses[i-window]
		}
		if i < window {
			continue
		}
		avgG := sumG / float64(window)
		avgL := sumL / float64(window)
		out[i] = rsiValue(avgG, avgL)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	// rolling sums can drift slightly below zero
	if avgLoss <= 1e-12 {
		if avgGain <= 1e-12 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
