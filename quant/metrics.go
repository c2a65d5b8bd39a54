package quant

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RiskMetrics holds fractional values; endpoints decide what to scale by 100.
type RiskMetrics struct {
	AnnualReturn       float64  `json:"annualReturn"`
	Volatility         float64  `json:"volatility"`
	SharpeRatio        float64  `json:"sharpeRatio"`
	SortinoRatio       float64  `json:"sortinoRatio"`
	DownsideVolatility float64  `json:"downsideVolatility"`
	Beta               *float64 `json:"beta"`
	Alpha              *float64 `json:"alpha"`
	VaR95              float64  `json:"var95"`
	VaR99              float64  `json:"var99"`
	CVaR95             float64  `json:"cvar95"`
	CVaR99             float64  `json:"cvar99"`
	MaxDrawdown        float64  `json:"maxDrawdown"`
	TradingDays        int      `json:"tradingDays"`
}

// ComputeRiskMetrics evaluates daily returns against an optional benchmark
// aligned date by date. A nil benchmark leaves Beta and Alpha nil.
func ComputeRiskMetrics(returns, benchmark []float64, rf float64) RiskMetrics {
	m := RiskMetrics{TradingDays: len(returns)}
	if len(returns) == 0 {
		return m
	}

	m.AnnualReturn = mean(returns) * TradingDays
	m.Volatility = sampleStd(returns) * math.Sqrt(TradingDays)
	if m.Volatility > 0 {
		m.SharpeRatio = (m.AnnualReturn - rf) / m.Volatility
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	m.DownsideVolatility = sampleStd(downside) * math.Sqrt(TradingDays)
	if m.DownsideVolatility > 0 {
		m.SortinoRatio = (m.AnnualReturn - rf) / m.DownsideVolatility
	}

	if len(benchmark) == len(returns) && len(benchmark) > 1 {
		// sample covariance over population variance, kept for parity with existing reports
		cov := stat.Covariance(returns, benchmark, nil)
		bvar := stat.PopVariance(benchmark, nil)
		beta := 1.0
		if bvar > 0 {
			beta = cov / bvar
		}
		bret := mean(benchmark) * TradingDays
		alpha := m.AnnualReturn - (rf + beta*(bret-rf))
		m.Beta, m.Alpha = &beta, &alpha
	}

	m.VaR95 = Percentile(returns, 5)
	m.VaR99 = Percentile(returns, 1)
	m.CVaR95 = tailMean(returns, m.VaR95)
	m.CVaR99 = tailMean(returns, m.VaR99)
	m.MaxDrawdown = MaxDrawdown(returns)
	return m
}

func tailMean(x []float64, threshold float64) float64 {
	sum, n := 0.0, 0
	for _, v := range x {
		if v <= threshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return threshold
	}
	return sum / float64(n)
}
