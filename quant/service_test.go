package quant

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/fetcher"
	"marketintel/model"
)

type fakeSource struct {
	series map[string]model.PriceSeries
	caps   map[string]float64
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (*model.QuoteSnapshot, error) {
	c, ok := f.caps[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return &model.QuoteSnapshot{Symbol: symbol, Price: 100, MarketCap: c}, nil
}

func (f *fakeSource) History(ctx context.Context, symbol, _, _ string) (model.PriceSeries, error) {
	return f.HistoryRange(ctx, symbol, time.Time{}, time.Time{}, "1d")
}

func (f *fakeSource) HistoryRange(_ context.Context, symbol string, _, _ time.Time, _ string) (model.PriceSeries, error) {
	ps, ok := f.series[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return ps, nil
}

func (f *fakeSource) Expirations(context.Context, string) ([]time.Time, error) {
	return nil, fetcher.ErrNoData
}

func (f *fakeSource) OptionChain(context.Context, string, time.Time) (*model.OptionChain, error) {
	return nil, fetcher.ErrNoData
}

func (f *fakeSource) Info(context.Context, string) (*model.Info, error) {
	return nil, fetcher.ErrNoData
}

func (f *fakeSource) News(context.Context, string) ([]model.NewsItem, error) {
	return nil, fetcher.ErrNoData
}

// pricesFrom compounds returns into a weekday price series.
func pricesFrom(returns []float64) model.PriceSeries {
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	next := func() time.Time {
		for {
			day = day.AddDate(0, 0, 1)
			if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
				return day
			}
		}
	}
	p := 100.0
	ps := model.PriceSeries{{Time: day, Close: p}}
	for _, r := range returns {
		p *= 1 + r
		ps = append(ps, model.Bar{Time: next(), Close: p})
	}
	return ps
}

func newTestService(src fetcher.Source) *Service {
	return NewService(src,
		WithBatch(fetcher.BatchOptions{Workers: 2}),
		WithNow(func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }))
}

func TestAnalyzeSharpeScenario(t *testing.T) {
	a := synthReturns(21, 504, 0.0006, 0.012)
	b := synthReturns(22, 504, 0.0002, 0.02)
	src := &fakeSource{series: map[string]model.PriceSeries{"AAA": pricesFrom(a), "BBB": pricesFrom(b)}}
	svc := newTestService(src)

	res, err := svc.Analyze(context.Background(), RiskRequest{
		RangeRequest: RangeRequest{Symbols: []string{"AAA", "BBB"}, StartDate: "2023-01-01", EndDate: "2025-01-01"},
		Weights:      map[string]float64{"AAA": 0.5, "BBB": 0.5},
	}, QuantRiskFree)
	require.NoError(t, err)

	port := make([]float64, len(a))
	for i := range a {
		port[i] = 0.5*a[i] + 0.5*b[i]
	}
	m := mean(port)
	sd := 0.0
	for _, r := range port {
		sd += (r - m) * (r - m)
	}
	sd = math.Sqrt(sd / float64(len(port)-1))
	want := (m*252 - QuantRiskFree) / (sd * math.Sqrt(252))

	assert.InDelta(t, want, res.Metrics.SharpeRatio, 1e-4)
	assert.Equal(t, 504, res.Metrics.TradingDays)
	assert.Nil(t, res.Metrics.Beta, "benchmark SPY is unavailable")
	assert.Equal(t, "SPY", res.Benchmark)

	pr := res.PortfolioReport()
	assert.InDelta(t, res.Metrics.VaR95*100, pr.VaR95, 1e-12)
	assert.Equal(t, res.Metrics.Volatility, pr.Volatility)
	rr := res.RiskReport()
	assert.InDelta(t, res.Metrics.Volatility*100, rr.Volatility, 1e-12)
	assert.Equal(t, res.Metrics.SharpeRatio, rr.SharpeRatio)
}

func TestAnalyzeWithBenchmark(t *testing.T) {
	a := synthReturns(31, 300, 0.0005, 0.01)
	src := &fakeSource{series: map[string]model.PriceSeries{"AAA": pricesFrom(a), "SPY": pricesFrom(a)}}
	res, err := newTestService(src).Analyze(context.Background(), RiskRequest{RangeRequest: RangeRequest{Symbols: []string{"aaa"}}}, PortfolioRiskFree)
	require.NoError(t, err)
	require.NotNil(t, res.Metrics.Beta)
	n := float64(len(a))
	assert.InDelta(t, n/(n-1), *res.Metrics.Beta, 1e-6)
}

func TestServiceErrors(t *testing.T) {
	svc := newTestService(&fakeSource{})
	ctx := context.Background()

	_, err := svc.Analyze(ctx, RiskRequest{RangeRequest: RangeRequest{Symbols: []string{"AAA"}}}, QuantRiskFree)
	assert.ErrorIs(t, err, fetcher.ErrNoData)

	_, err = svc.Analyze(ctx, RiskRequest{}, QuantRiskFree)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Correlation(ctx, RangeRequest{Symbols: []string{"AAA"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Analyze(ctx, RiskRequest{RangeRequest: RangeRequest{Symbols: []string{"AAA"}, StartDate: "2024-13-01"}}, QuantRiskFree)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Analyze(ctx, RiskRequest{RangeRequest: RangeRequest{Symbols: []string{"AAA"}, StartDate: "2024-06-01", EndDate: "2024-01-01"}}, QuantRiskFree)
	assert.ErrorIs(t, err, ErrValidation)
}

func twoSymbolSource() *fakeSource {
	return &fakeSource{
		series: map[string]model.PriceSeries{
			"AAA": pricesFrom(synthReturns(41, 260, 0.0008, 0.01)),
			"BBB": pricesFrom(synthReturns(42, 260, 0.0003, 0.015)),
		},
		caps: map[string]float64{"AAA": 3e12, "BBB": 1e12},
	}
}

func TestServiceMonteCarlo(t *testing.T) {
	svc := newTestService(twoSymbolSource())
	seed := uint64(5)
	req := MonteCarloRequest{
		RangeRequest:    RangeRequest{Symbols: []string{"AAA", "BBB"}},
		InitialCapital:  10000,
		TimeHorizonDays: 20,
		NumSimulations:  200,
		Seed:            &seed,
	}
	a, err := svc.MonteCarlo(context.Background(), req, "correlated")
	require.NoError(t, err)
	b, err := svc.MonteCarlo(context.Background(), req, "correlated")
	require.NoError(t, err)
	assert.Equal(t, a.Statistics, b.Statistics)
	assert.Equal(t, "cholesky", a.Method)

	n, err := svc.MonteCarlo(context.Background(), req, "normal")
	require.NoError(t, err)
	assert.Equal(t, "normal", n.Method)

	req.Method = "bogus"
	_, err = svc.MonteCarlo(context.Background(), req, "normal")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceBlackLittermanMarketCaps(t *testing.T) {
	svc := newTestService(twoSymbolSource())
	res, err := svc.BlackLitterman(context.Background(), BlackLittermanRequest{
		RangeRequest: RangeRequest{Symbols: []string{"AAA", "BBB"}},
		Views:        []View{{Symbol: "bbb", ExpectedReturn: 0.25, Confidence: 0.6}},
	}, QuantRiskFree)
	require.NoError(t, err)
	assert.Equal(t, "marketCap", res.MarketWeightSource)
	assert.InDelta(t, 0.75, res.MarketWeights["AAA"], 1e-12)
	assert.Equal(t, 1, res.ViewsApplied)
	sum := 0.0
	for _, w := range res.Optimal.Weights {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-6)

	_, err = svc.BlackLitterman(context.Background(), BlackLittermanRequest{
		RangeRequest: RangeRequest{Symbols: []string{"AAA", "BBB"}},
		Views:        []View{{Symbols: []string{"AAA", "BBB"}, ExpectedReturn: 0.1, Confidence: 0.5}},
	}, QuantRiskFree)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceOptimizeAllocation(t *testing.T) {
	svc := newTestService(twoSymbolSource())
	res, err := svc.OptimizeAllocation(context.Background(), AllocationRequest{
		Holdings:  map[string]float64{"aaa": 2000, "BBB": 8000},
		Objective: "min_volatility",
	}, PortfolioRiskFree)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, res.TotalValue)
	assert.InDelta(t, 0.2, res.CurrentWeights["AAA"], 1e-12)
	require.Len(t, res.Trades, 2)
	net := 0.0
	for _, tr := range res.Trades {
		net += tr.TradeValue
		assert.Contains(t, []string{"buy", "sell", "hold"}, tr.Action)
	}
	assert.InDelta(t, 0, net, 1e-6)
	assert.LessOrEqual(t, res.Target.Volatility, res.Current.Volatility+1e-9)

	_, err = svc.OptimizeAllocation(context.Background(), AllocationRequest{
		Holdings:  map[string]float64{"AAA": 1, "BBB": 1},
		Objective: "max_return",
	}, PortfolioRiskFree)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceOptimizeVariants(t *testing.T) {
	svc := newTestService(twoSymbolSource())
	seed := uint64(3)
	req := OptimizeRequest{RangeRequest: RangeRequest{Symbols: []string{"AAA", "BBB"}}, NumPortfolios: 300, FrontierPoints: 4, Seed: &seed}

	mc, err := svc.Optimize(context.Background(), req, QuantRiskFree)
	require.NoError(t, err)
	assert.Len(t, mc.Portfolios, 300)

	c, err := svc.OptimizeConstrained(context.Background(), req, QuantRiskFree)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.MaxSharpe.Sharpe, mc.MaxSharpe.Sharpe-0.05)
	assert.Equal(t, []string{"AAA", "BBB"}, c.Symbols)

	req.NumPortfolios = MaxMCPortfolios + 1
	_, err = svc.Optimize(context.Background(), req, QuantRiskFree)
	assert.ErrorIs(t, err, ErrValidation)
}
