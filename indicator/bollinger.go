package indicator

type BollingerBands struct {
	Upper  Line
	Middle Line
	Lower  Line
}

func Bollinger(values []float64, window int, k float64) BollingerBands {
	mid := SMA(values, window)
	sd := RollingStd(values, window)
	up := nanLine(len(values))
	lo := nanLine(len(values))
	for i := range values {
		up[i] = mid[i] + k*sd[i]
		lo[i] = mid[i] - k*sd[i]
	}
	return BollingerBands{Upper: up, Middle: mid, Lower: lo}
}
