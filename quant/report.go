package quant

// PortfolioReport is the /api/portfolio/analyze shape: tail and drawdown
// figures in percent, volatility and ratios as fractions.
type PortfolioReport struct {
	Symbols            []string           `json:"symbols"`
	Weights            map[string]float64 `json:"weights"`
	Benchmark          string             `json:"benchmark"`
	AnnualReturn       float64            `json:"annualReturn"`
	Volatility         float64            `json:"volatility"`
	SharpeRatio        float64            `json:"sharpeRatio"`
	Beta               *float64           `json:"beta"`
	Alpha              *float64           `json:"alpha"`
	VaR95              float64            `json:"var95"`
	VaR99              float64            `json:"var99"`
	CVaR95             float64            `json:"cvar95"`
	CVaR99             float64            `json:"cvar99"`
	MaxDrawdown        float64            `json:"maxDrawdown"`
	DownsideVolatility float64            `json:"downsideVolatility"`
	SortinoRatio       float64            `json:"sortinoRatio"`
	TradingDays        int                `json:"tradingDays"`
}

func (a *Analysis) PortfolioReport() PortfolioReport {
	m := a.Metrics
	return PortfolioReport{
		Symbols:            a.Symbols,
		Weights:            a.Weights,
		Benchmark:          a.Benchmark,
		AnnualReturn:       m.AnnualReturn,
		Volatility:         m.Volatility,
		SharpeRatio:        m.SharpeRatio,
		Beta:               m.Beta,
		Alpha:              m.Alpha,
		VaR95:              m.VaR95 * 100,
		VaR99:              m.VaR99 * 100,
		CVaR95:             m.CVaR95 * 100,
		CVaR99:             m.CVaR99 * 100,
		MaxDrawdown:        m.MaxDrawdown * 100,
		DownsideVolatility: m.DownsideVolatility,
		SortinoRatio:       m.SortinoRatio,
		TradingDays:        m.TradingDays,
	}
}

// RiskReport is the /api/quant/risk-metrics shape: returns, volatility and
// tail figures in percent, ratios raw.
type RiskReport struct {
	Symbols            []string           `json:"symbols"`
	Weights            map[string]float64 `json:"weights"`
	Benchmark          string             `json:"benchmark"`
	AnnualReturn       float64            `json:"annualReturn"`
	Volatility         float64            `json:"volatility"`
	DownsideVolatility float64            `json:"downsideVolatility"`
	SharpeRatio        float64            `json:"sharpeRatio"`
	SortinoRatio       float64            `json:"sortinoRatio"`
	Beta               *float64           `json:"beta"`
	Alpha              *float64           `json:"alpha"`
	VaR95              float64            `json:"var95"`
	VaR99              float64            `json:"var99"`
	CVaR95             float64            `json:"cvar95"`
	CVaR99             float64            `json:"cvar99"`
	MaxDrawdown        float64            `json:"maxDrawdown"`
	TradingDays        int                `json:"tradingDays"`
}

func (a *Analysis) RiskReport() RiskReport {
	m := a.Metrics
	var alpha *float64
	if m.Alpha != nil {
		v := *m.Alpha * 100
		alpha = &v
	}
	return RiskReport{
		Symbols:            a.Symbols,
		Weights:            a.Weights,
		Benchmark:          a.Benchmark,
		AnnualReturn:       m.AnnualReturn * 100,
		Volatility:         m.Volatility * 100,
		DownsideVolatility: m.DownsideVolatility * 100,
		SharpeRatio:        m.SharpeRatio,
		SortinoRatio:       m.SortinoRatio,
		Beta:               m.Beta,
		Alpha:              alpha,
		VaR95:              m.VaR95 * 100,
		VaR99:              m.VaR99 * 100,
		CVaR95:             m.CVaR95 * 100,
		CVaR99:             m.CVaR99 * 100,
		MaxDrawdown:        m.MaxDrawdown * 100,
		TradingDays:        m.TradingDays,
	}
}
