package indicator

type MACDResult struct {
	MACD      Line
	Signal    Line
	Histogram Line
}

func MACD(values []float64, fast, slow, signal int) MACDResult {
	f := EMA(values, fast)
	s := EMA(values, slow)
	line := nanLine(len(values))
	for i := range values {
		line[i] = f[i] - s[i]
	}
	sig := EMA(line, signal)
	hist := nanLine(len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{MACD: line, Signal: sig, Histogram: hist}
}
