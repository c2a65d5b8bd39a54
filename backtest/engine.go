package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"marketintel/fetcher"
	"marketintel/model"
	"marketintel/quant"
)

const (
	DefaultCapital   = 100_000.0
	DefaultBenchmark = "SPY"
	dateLayout       = "2006-01-02"
)

// Engine loads history for a Request and runs it through Simulate.
type Engine struct {
	src   fetcher.Source
	batch fetcher.BatchOptions
	now   func() time.Time
}

type Option func(*Engine)

func WithBatch(b fetcher.BatchOptions) Option { return func(e *Engine) { e.batch = b } }

func WithNow(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(src fetcher.Source, opts ...Option) *Engine {
	e := &Engine{src: src, batch: fetcher.QuantBatch, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", quant.ErrValidation, fmt.Sprintf(format, args...))
}

func (e *Engine) window(req Request) (time.Time, time.Time, error) {
	end := e.now().UTC().Truncate(24 * time.Hour)
	if req.EndDate != "" {
		t, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, badRequest("endDate %q is not YYYY-MM-DD", req.EndDate)
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if req.StartDate != "" {
		t, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, badRequest("startDate %q is not YYYY-MM-DD", req.StartDate)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, badRequest("startDate must be before endDate")
	}
	return start, end, nil
}

// Run validates the request, fetches daily closes for the symbols and the
// benchmark, aligns them and simulates the strategy.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	var symbols []string
	seen := map[string]bool{}
	for _, s := range req.Symbols {
		s = fetcher.Normalize(s)
		if s != "" && !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, badRequest("at least one symbol required")
	}
	if req.Strategy == "" {
		req.Strategy = "buy_and_hold"
	}
	settings := req.Params.withDefaults()
	if _, err := NewStrategy(req.Strategy, settings); err != nil {
		return nil, err
	}
	if req.Strategy == "pairs_trading" && len(symbols) < 2 {
		return nil, badRequest("pairs_trading needs two symbols")
	}
	if req.InitialCapital < 0 || math.IsNaN(req.InitialCapital) {
		return nil, badRequest("initialCapital must be positive")
	}
	start, end, err := e.window(req)
	if err != nil {
		return nil, err
	}
	bench := fetcher.Normalize(req.Benchmark)
	if bench == "" {
		bench = DefaultBenchmark
	}

	keys := append([]string(nil), symbols...)
	if !seen[bench] {
		keys = append(keys, bench)
	}
	res := fetcher.FetchAll(ctx, keys, e.batch, func(ctx context.Context, sym string) (model.PriceSeries, error) {
		return e.src.HistoryRange(ctx, sym, start, end.AddDate(0, 0, 1), "1d")
	})
	series := fetcher.Successful(res)
	for _, r := range res {
		if r.Err != nil {
			log.Warn().Str("symbol", r.Symbol).Err(r.Err).Msg("[backtest] history unavailable")
		}
	}

	in := Input{
		Strategy:       req.Strategy,
		Settings:       settings,
		InitialCapital: req.InitialCapital,
		Closes:         map[string][]float64{},
	}
	for _, s := range symbols {
		if len(series[s]) < settings.LookbackPeriod+1 {
			in.Excluded = append(in.Excluded, s)
			continue
		}
		in.Symbols = append(in.Symbols, s)
	}
	if len(in.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbol has more than %d bars", ErrInsufficientData, settings.LookbackPeriod)
	}
	if req.Strategy == "pairs_trading" && len(in.Symbols) < 2 {
		return nil, fmt.Errorf("%w: pairs_trading lost a leg to missing history", ErrInsufficientData)
	}

	withBench := append(append([]string(nil), in.Symbols...), bench)
	dates := commonDates(withBench, series)
	if len(dates) >= MinCommonDates {
		in.Benchmark = bench
	} else {
		if _, ok := series[bench]; ok {
			log.Warn().Str("benchmark", bench).Msg("[backtest] benchmark shortens the window too much, dropping it")
		}
		dates = commonDates(in.Symbols, series)
	}
	if len(dates) < MinCommonDates {
		return nil, fmt.Errorf("%w: only %d common trading dates, need %d", ErrInsufficientData, len(dates), MinCommonDates)
	}
	in.Dates = dates

	cols := in.Symbols
	if in.Benchmark != "" && !seen[in.Benchmark] {
		cols = withBench
	}
	for _, s := range cols {
		in.Closes[s] = closesOn(series[s], dates)
	}

	w, err := quant.NormalizeWeights(in.Symbols, req.Weights)
	if err != nil {
		return nil, err
	}
	in.Weights = make(map[string]float64, len(w))
	for i, s := range in.Symbols {
		in.Weights[s] = w[i]
	}
	return Simulate(in)
}

func dayKey(b model.Bar) string { return b.Time.Format(dateLayout) }

// commonDates returns the sorted dates present in every listed series.
func commonDates(symbols []string, series map[string]model.PriceSeries) []string {
	count := map[string]int{}
	for _, s := range symbols {
		ps, ok := series[s]
		if !ok {
			return nil
		}
		day := map[string]bool{}
		for _, b := range ps {
			if k := dayKey(b); !day[k] && b.Close > 0 {
				day[k] = true
				count[k]++
			}
		}
	}
	var out []string
	for d, n := range count {
		if n == len(symbols) {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func closesOn(ps model.PriceSeries, dates []string) []float64 {
	byDay := make(map[string]float64, len(ps))
	for _, b := range ps {
		byDay[dayKey(b)] = b.Close
	}
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = byDay[d]
	}
	return out
}

// Input is a fully aligned backtest: every Closes slice has len(Dates) values.
type Input struct {
	Dates          []string
	Symbols        []string
	Excluded       []string
	Closes         map[string][]float64
	Weights        map[string]float64
	Benchmark      string
	Strategy       string
	Settings       Settings
	InitialCapital float64
}

// Simulate walks the dates once. The first LookbackPeriod dates only record
// value; afterwards the strategy's orders fill at the close, sells first.
func Simulate(in Input) (*Result, error) {
	strat, err := NewStrategy(in.Strategy, in.Settings)
	if err != nil {
		return nil, err
	}
	if len(in.Dates) < MinCommonDates {
		return nil, fmt.Errorf("%w: only %d common trading dates, need %d", ErrInsufficientData, len(in.Dates), MinCommonDates)
	}
	capital := in.InitialCapital
	if capital <= 0 {
		capital = DefaultCapital
	}

	cash := decimal.NewFromFloat(capital)
	holdings := map[string]int64{}
	trades := []Trade{}
	points := make([]Point, 0, len(in.Dates))

	mark := func(i int) float64 {
		v := cash
		for s, n := range holdings {
			v = v.Add(decimal.NewFromFloat(in.Closes[s][i]).Mul(decimal.NewFromInt(n)))
		}
		return v.InexactFloat64()
	}

	for i, d := range in.Dates {
		if i >= in.Settings.LookbackPeriod {
			view := &DayView{
				Index:    i,
				Date:     d,
				Symbols:  in.Symbols,
				Settings: in.Settings,
				Weights:  in.Weights,
				closes:   in.Closes,
				holdings: holdings,
				cash:     cash.InexactFloat64(),
				value:    mark(i),
			}
			acts := strat.OnDate(view)
			sortActions(acts)
			for _, a := range acts {
				px := in.Closes[a.Symbol][i]
				if px <= 0 {
					continue
				}
				price := decimal.NewFromFloat(px)
				var shares int64
				switch a.Side {
				case Sell:
					shares = holdings[a.Symbol]
					if shares <= 0 {
						continue
					}
					cash = cash.Add(price.Mul(decimal.NewFromInt(shares)))
					delete(holdings, a.Symbol)
				case Buy:
					budget := decimal.NewFromFloat(math.Max(a.Value, 0))
					if budget.GreaterThan(cash) {
						budget = cash
					}
					shares = budget.Div(price).Floor().IntPart()
					if shares <= 0 {
						continue
					}
					cash = cash.Sub(price.Mul(decimal.NewFromInt(shares)))
					holdings[a.Symbol] += shares
				default:
					continue
				}
				trades = append(trades, Trade{
					Date:           d,
					Symbol:         a.Symbol,
					Action:         a.Side,
					Shares:         shares,
					Price:          px,
					Value:          price.Mul(decimal.NewFromInt(shares)).InexactFloat64(),
					Reason:         a.Reason,
					Indicator:      a.Indicator,
					IndicatorValue: a.IndicatorValue,
				})
			}
		}
		points = append(points, Point{Date: d, Value: mark(i)})
	}

	res := &Result{
		Strategy:        in.Strategy,
		Symbols:         in.Symbols,
		ExcludedSymbols: in.Excluded,
		StartDate:       in.Dates[0],
		EndDate:         in.Dates[len(in.Dates)-1],
		Settings:        in.Settings,
		Trades:          trades,
		Values:          points,
		FinalHoldings:   holdings,
	}
	if res.ExcludedSymbols == nil {
		res.ExcludedSymbols = []string{}
	}
	res.Summary = summarize(capital, points, len(trades))

	if b, ok := in.Closes[in.Benchmark]; ok && in.Benchmark != "" && b[0] > 0 {
		bp := make([]Point, len(b))
		for i, px := range b {
			bp[i] = Point{Date: in.Dates[i], Value: capital * px / b[0]}
		}
		bs := summarize(capital, bp, 0)
		res.Benchmark = &Benchmark{
			Symbol:           in.Benchmark,
			TotalReturn:      bs.TotalReturn,
			AnnualizedReturn: bs.AnnualizedReturn,
			Volatility:       bs.Volatility,
			SharpeRatio:      bs.SharpeRatio,
			MaxDrawdown:      bs.MaxDrawdown,
			ExcessReturn:     res.Summary.TotalReturn - bs.TotalReturn,
			Values:           bp,
		}
	}

	log.Debug().
		Str("strategy", in.Strategy).
		Strs("symbols", in.Symbols).
		Int("days", len(in.Dates)).
		Int("trades", len(trades)).
		Float64("final", res.Summary.FinalValue).
		Msg("[backtest] 回测完成")
	return res, nil
}

func summarize(initial float64, points []Point, trades int) Summary {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	final := values[len(values)-1]
	s := Summary{
		InitialCapital: initial,
		FinalValue:     final,
		TotalReturn:    (final/initial - 1) * 100,
		TotalTrades:    trades,
		TradingDays:    len(values),
		MaxDrawdown:    quant.ValueDrawdown(values) * 100,
		YearlyReturns:  yearly(initial, points),
	}

	rets := make([]float64, 0, len(values))
	up := 0
	for i := 1; i < len(values); i++ {
		r := 0.0
		if values[i-1] > 0 {
			r = values[i]/values[i-1] - 1
		}
		if r > 0 {
			up++
		}
		rets = append(rets, r)
	}
	if len(rets) > 0 {
		s.WinRate = float64(up) / float64(len(rets)) * 100
		if final > 0 {
			s.AnnualizedReturn = (math.Pow(final/initial, quant.TradingDays/float64(len(rets))) - 1) * 100
		} else {
			s.AnnualizedReturn = -100
		}
	}
	m := quant.ComputeRiskMetrics(rets, nil, quant.QuantRiskFree)
	s.Volatility = m.Volatility * 100
	s.SharpeRatio = m.SharpeRatio
	s.SortinoRatio = m.SortinoRatio
	return s
}

// yearly chains each calendar year's last value onto the previous year's.
func yearly(initial float64, points []Point) []YearReturn {
	out := []YearReturn{}
	base := initial
	for i := 0; i < len(points); {
		year, _ := strconv.Atoi(points[i].Date[:4])
		j := i
		for j+1 < len(points) && points[j+1].Date[:4] == points[i].Date[:4] {
			j++
		}
		last := points[j].Value
		r := 0.0
		if base > 0 {
			r = (last/base - 1) * 100
		}
		out = append(out, YearReturn{Year: year, Return: r})
		base = last
		i = j + 1
	}
	return out
}
