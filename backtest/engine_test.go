package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/fetcher"
	"marketintel/model"
	"marketintel/quant"
)

func weekdays(n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(out) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func dateStrings(n int) []string {
	var out []string
	for _, d := range weekdays(n) {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

func series(closes []float64) model.PriceSeries {
	ps := make(model.PriceSeries, len(closes))
	for i, d := range weekdays(len(closes)) {
		ps[i] = model.Bar{Time: d, Open: closes[i], High: closes[i], Low: closes[i], Close: closes[i]}
	}
	return ps
}

func gen(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func wave(n int) map[string][]float64 {
	return map[string][]float64{
		"AAA": gen(n, func(i int) float64 { return 100 + 10*math.Sin(float64(i)/6) + 0.05*float64(i) }),
		"BBB": gen(n, func(i int) float64 { return 80 + 8*math.Sin(float64(i)/6+0.7) }),
	}
}

func TestSimulateDeterministic(t *testing.T) {
	for _, name := range StrategyNames() {
		t.Run(name, func(t *testing.T) {
			in := Input{
				Dates:          dateStrings(200),
				Symbols:        []string{"AAA", "BBB"},
				Closes:         wave(200),
				Weights:        map[string]float64{"AAA": 0.5, "BBB": 0.5},
				Strategy:       name,
				Settings:       Params{}.withDefaults(),
				InitialCapital: 100_000,
			}
			a, err := Simulate(in)
			require.NoError(t, err)
			b, err := Simulate(in)
			require.NoError(t, err)
			assert.Equal(t, a.Trades, b.Trades)
			assert.Equal(t, a.Summary.FinalValue, b.Summary.FinalValue)
			assert.Len(t, a.Values, 200)

			for s, n := range a.FinalHoldings {
				assert.Positive(t, n, s)
			}
			for _, p := range a.Values {
				assert.Positive(t, p.Value)
			}
		})
	}
}

func TestBuyAndHold(t *testing.T) {
	in := Input{
		Dates:   dateStrings(60),
		Symbols: []string{"AAA", "BBB"},
		Closes: map[string][]float64{
			"AAA": gen(60, func(i int) float64 {
				if i < 30 {
					return 100
				}
				return 110
			}),
			"BBB": gen(60, func(int) float64 { return 50 }),
		},
		Weights:        map[string]float64{"AAA": 0.5, "BBB": 0.5},
		Strategy:       "buy_and_hold",
		Settings:       Params{}.withDefaults(),
		InitialCapital: 10_000,
	}
	res, err := Simulate(in)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, in.Dates[20], res.Trades[0].Date)
	assert.Equal(t, int64(50), res.FinalHoldings["AAA"])
	assert.Equal(t, int64(100), res.FinalHoldings["BBB"])
	assert.InDelta(t, 10_500, res.Summary.FinalValue, 1e-9)
	assert.InDelta(t, 5, res.Summary.TotalReturn, 1e-9)
	assert.InDelta(t, 0, res.Summary.MaxDrawdown, 1e-12)
	assert.InDelta(t, 100.0/59, res.Summary.WinRate, 1e-9)
	require.Len(t, res.Summary.YearlyReturns, 1)
	assert.Equal(t, 2023, res.Summary.YearlyReturns[0].Year)
	assert.InDelta(t, 5, res.Summary.YearlyReturns[0].Return, 1e-9)
}

func TestMeanReversionRoundTrip(t *testing.T) {
	closes := gen(60, func(i int) float64 {
		if i == 40 {
			return 90
		}
		return 100 + float64(i%2)
	})
	res, err := Simulate(Input{
		Dates:          dateStrings(60),
		Symbols:        []string{"AAA"},
		Closes:         map[string][]float64{"AAA": closes},
		Weights:        map[string]float64{"AAA": 1},
		Strategy:       "mean_reversion",
		Settings:       Params{}.withDefaults(),
		InitialCapital: 10_000,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, Buy, buy.Action)
	assert.Equal(t, int64(111), buy.Shares)
	assert.Equal(t, "z_score", buy.Indicator)
	assert.Less(t, buy.IndicatorValue, -2.0)
	assert.Equal(t, Sell, sell.Action)
	assert.Equal(t, 101.0, sell.Price)
	assert.InDelta(t, 11_221, res.Summary.FinalValue, 1e-9)
	assert.Empty(t, res.FinalHoldings)
}

func TestMomentumHoldsTopFraction(t *testing.T) {
	res, err := Simulate(Input{
		Dates:   dateStrings(60),
		Symbols: []string{"AAA", "BBB", "CCC"},
		Closes: map[string][]float64{
			"AAA": gen(60, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) }),
			"BBB": gen(60, func(int) float64 { return 100 }),
			"CCC": gen(60, func(i int) float64 { return 100 * math.Pow(0.99, float64(i)) }),
		},
		Weights:        map[string]float64{"AAA": 1.0 / 3, "BBB": 1.0 / 3, "CCC": 1.0 / 3},
		Strategy:       "momentum",
		Settings:       Params{}.withDefaults(),
		InitialCapital: 10_000,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	for _, tr := range res.Trades {
		assert.NotEqual(t, "CCC", tr.Symbol)
		assert.Equal(t, Buy, tr.Action)
	}
	assert.Equal(t, int64(50), res.FinalHoldings["BBB"])
}

func TestSimulateRejectsShortWindow(t *testing.T) {
	_, err := Simulate(Input{
		Dates:    dateStrings(49),
		Symbols:  []string{"AAA"},
		Closes:   map[string][]float64{"AAA": gen(49, func(int) float64 { return 1 })},
		Weights:  map[string]float64{"AAA": 1},
		Strategy: "rsi",
		Settings: Params{}.withDefaults(),
	})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestNewStrategyUnknown(t *testing.T) {
	_, err := NewStrategy("martingale", Params{}.withDefaults())
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Len(t, StrategyNames(), 8)
}

func TestParamsDefaults(t *testing.T) {
	entry := -1.5
	s := Params{LookbackPeriod: 30, EntryThreshold: &entry, PositionSize: 2}.withDefaults()
	assert.Equal(t, 30, s.LookbackPeriod)
	assert.Equal(t, -1.5, s.EntryThreshold)
	assert.Equal(t, 0.0, s.ExitThreshold)
	assert.Equal(t, 0.5, s.PositionSize)
	assert.Equal(t, 10, s.FastPeriod)
	assert.Equal(t, 50, s.SlowPeriod)
}

type fakeSource struct {
	fetcher.Source
	series map[string]model.PriceSeries
}

func (f *fakeSource) HistoryRange(_ context.Context, symbol string, _, _ time.Time, _ string) (model.PriceSeries, error) {
	ps, ok := f.series[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return ps, nil
}

func newTestEngine(src fetcher.Source) *Engine {
	return NewEngine(src,
		WithBatch(fetcher.BatchOptions{Workers: 2, Timeout: time.Second}),
		WithNow(func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }),
	)
}

func TestEngineRun(t *testing.T) {
	w := wave(80)
	src := &fakeSource{series: map[string]model.PriceSeries{
		"AAA": series(w["AAA"]),
		"BBB": series(w["BBB"][:10]),
		"SPY": series(gen(80, func(i int) float64 { return 400 + float64(i) })),
	}}
	e := newTestEngine(src)

	res, err := e.Run(context.Background(), Request{Symbols: []string{"aaa", "BBB"}, Strategy: "buy_and_hold", InitialCapital: 50_000})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, res.Symbols)
	assert.Equal(t, []string{"BBB"}, res.ExcludedSymbols)
	require.NotNil(t, res.Benchmark)
	assert.Equal(t, "SPY", res.Benchmark.Symbol)
	assert.InDelta(t, (479.0/400-1)*100, res.Benchmark.TotalReturn, 1e-9)
	assert.Len(t, res.Values, 80)

	delete(src.series, "SPY")
	res, err = e.Run(context.Background(), Request{Symbols: []string{"AAA"}, Strategy: "rsi"})
	require.NoError(t, err)
	assert.Nil(t, res.Benchmark)
	assert.Equal(t, DefaultCapital, res.Summary.InitialCapital)
}

func TestEngineRunErrors(t *testing.T) {
	src := &fakeSource{series: map[string]model.PriceSeries{
		"AAA": series(gen(40, func(i int) float64 { return 100 + float64(i) })),
	}}
	e := newTestEngine(src)
	ctx := context.Background()

	_, err := e.Run(ctx, Request{Symbols: []string{"AAA"}})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = e.Run(ctx, Request{Symbols: []string{"AAA"}, Strategy: "grid"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = e.Run(ctx, Request{Symbols: []string{"AAA"}, Strategy: "pairs_trading"})
	assert.ErrorIs(t, err, quant.ErrValidation)

	_, err = e.Run(ctx, Request{})
	assert.ErrorIs(t, err, quant.ErrValidation)

	_, err = e.Run(ctx, Request{Symbols: []string{"AAA"}, StartDate: "2023/01/01"})
	assert.ErrorIs(t, err, quant.ErrValidation)
}

func TestParseRunConfig(t *testing.T) {
	req, err := ParseRunConfig([]byte(`
backtest:
  symbols: [AAPL, MSFT]
  start: "2023-01-01"
  end: "2024-06-30"
  initial_capital: 250000
  weights:
    AAPL: 0.6
    MSFT: 0.4
strategy:
  type: mean_reversion
  params:
    lookback_period: 30
    entry_threshold: -1.5
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, req.Symbols)
	assert.Equal(t, "mean_reversion", req.Strategy)
	assert.Equal(t, 250000.0, req.InitialCapital)
	assert.Equal(t, 0.6, req.Weights["AAPL"])
	assert.Equal(t, 30, req.Params.LookbackPeriod)
	require.NotNil(t, req.Params.EntryThreshold)
	assert.Equal(t, -1.5, *req.Params.EntryThreshold)
	assert.Nil(t, req.Params.ExitThreshold)

	_, err = ParseRunConfig([]byte("backtest:\n  symbols: [AAPL]\nstrategy:\n  type: grid\n"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = ParseRunConfig([]byte("backtest:\n  symbols: [AAPL]\n  start: 01/02/2023\n"))
	assert.Error(t, err)
}

type wantTrade struct {
	day       int
	symbol    string
	side      Side
	indicator string
	value     float64
}

func TestStrategySignals(t *testing.T) {
	const n = 60
	step := func(f func(i int) float64) []float64 { return gen(n, f) }
	flat := step(func(int) float64 { return 100 })
	// 偶数日 100、奇数日 100.5，第 30 天跳到 110
	jumpy := step(func(i int) float64 {
		if i == 30 {
			return 110
		}
		return 100 + 0.5*float64(i%2)
	})

	cases := []struct {
		name     string
		strategy string
		params   Params
		closes   map[string][]float64
		want     []wantTrade
	}{
		{
			// 通道高点不含当天：第 30 天 105 突破前 5 日高点 100
			name:     "breakout excludes current day",
			strategy: "breakout",
			params:   Params{LookbackPeriod: 5},
			closes: map[string][]float64{"AAA": step(func(i int) float64 {
				switch {
				case i < 30:
					return 100
				case i < 40:
					return 105
				}
				return 90
			})},
			want: []wantTrade{
				{30, "AAA", Buy, "trailing_high", 100},
				{40, "AAA", Sell, "trailing_low", 105},
			},
		},
		{
			// 第 21 天 RSI 66.7 未过 70，第 22 天 80 卖出
			name:     "rsi thresholds",
			strategy: "rsi",
			params:   Params{LookbackPeriod: 14},
			closes: map[string][]float64{"AAA": step(func(i int) float64 {
				if i < 20 {
					return 100
				}
				return 99 + 2*float64(i-20)
			})},
			want: []wantTrade{
				{20, "AAA", Buy, "rsi", 0},
				{22, "AAA", Sell, "rsi", 80},
			},
		},
		{
			name:     "bollinger bands",
			strategy: "bollinger_bands",
			closes: map[string][]float64{"AAA": step(func(i int) float64 {
				switch i {
				case 30:
					return 90
				case 31:
					return 120
				}
				return 100 + float64(i%2)
			})},
			want: []wantTrade{
				{30, "AAA", Buy, "lower_band", 100 - 2*math.Sqrt(110.0/19.0)},
				{31, "AAA", Sell, "upper_band", 111.11650848309498},
			},
		},
		{
			name:     "ma crossover",
			strategy: "ma_crossover",
			params:   Params{FastPeriod: 3, SlowPeriod: 6},
			closes: map[string][]float64{"AAA": step(func(i int) float64 {
				if i >= 30 && i < 40 {
					return 110
				}
				return 100
			})},
			want: []wantTrade{
				{30, "AAA", Buy, "ma_spread", 5.0 / 3.0},
				{40, "AAA", Sell, "ma_spread", -5.0 / 3.0},
			},
		},
		{
			// AAA 偏贵时只买入 BBB，不做空 AAA
			name:     "pairs buys the cheap leg",
			strategy: "pairs_trading",
			params:   Params{LookbackPeriod: 10},
			closes:   map[string][]float64{"AAA": jumpy, "BBB": flat},
			want: []wantTrade{
				{30, "BBB", Buy, "pair_z", 2.8368019415310783},
				{31, "BBB", Sell, "pair_z", -0.24315445213123632},
			},
		},
		{
			name:     "pairs mirrored",
			strategy: "pairs_trading",
			params:   Params{LookbackPeriod: 10},
			closes:   map[string][]float64{"AAA": flat, "BBB": jumpy},
			want: []wantTrade{
				{30, "AAA", Buy, "pair_z", -2.8349219289382397},
				{31, "AAA", Sell, "pair_z", 0.23597411723203604},
			},
		},
	}

	dates := dateStrings(n)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			symbols := []string{"AAA"}
			weights := map[string]float64{"AAA": 1}
			if len(tc.closes) == 2 {
				symbols = []string{"AAA", "BBB"}
				weights = map[string]float64{"AAA": 0.5, "BBB": 0.5}
			}
			res, err := Simulate(Input{
				Dates:          dates,
				Symbols:        symbols,
				Closes:         tc.closes,
				Weights:        weights,
				Strategy:       tc.strategy,
				Settings:       tc.params.withDefaults(),
				InitialCapital: 100_000,
			})
			require.NoError(t, err)
			require.Len(t, res.Trades, len(tc.want))
			for i, w := range tc.want {
				tr := res.Trades[i]
				assert.Equal(t, dates[w.day], tr.Date, "trade %d", i)
				assert.Equal(t, w.symbol, tr.Symbol, "trade %d", i)
				assert.Equal(t, w.side, tr.Action, "trade %d", i)
				assert.Equal(t, w.indicator, tr.Indicator, "trade %d", i)
				assert.InDelta(t, w.value, tr.IndicatorValue, 1e-6, "trade %d", i)
				assert.Positive(t, tr.Shares)
			}
			assert.Empty(t, res.FinalHoldings)
		})
	}
}
