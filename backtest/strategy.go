package backtest

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"marketintel/indicator"
)

// Strategy decides the orders for one active date. The loop calls OnDate
// once per date in order; implementations may keep state between calls.
type Strategy interface {
	OnDate(view *DayView) []Action
}

// DayView is what a strategy sees on one date: prices up to and including
// that date plus the portfolio state before any of its orders fill.
type DayView struct {
	Index    int
	Date     string
	Symbols  []string
	Settings Settings
	Weights  map[string]float64

	closes   map[string][]float64
	holdings map[string]int64
	cash     float64
	value    float64
}

// History returns closes from the first aligned date through today.
func (v *DayView) History(symbol string) []float64 { return v.closes[symbol][:v.Index+1] }

func (v *DayView) Price(symbol string) float64 { return v.closes[symbol][v.Index] }

func (v *DayView) Held(symbol string) int64 { return v.holdings[symbol] }

func (v *DayView) Cash() float64 { return v.cash }

// Value is cash plus holdings marked at today's close.
func (v *DayView) Value() float64 { return v.value }

// slot is the symbol's weighted share of the portfolio.
func (v *DayView) slot(symbol string) float64 { return v.value * v.Weights[symbol] }

func tail(h []float64, n int) ([]float64, bool) {
	if n <= 0 || len(h) < n {
		return nil, false
	}
	return h[len(h)-n:], true
}

var registry = map[string]func(Settings) Strategy{
	"buy_and_hold":    func(Settings) Strategy { return &buyAndHold{} },
	"mean_reversion":  func(Settings) Strategy { return meanReversion{} },
	"momentum":        func(Settings) Strategy { return momentum{} },
	"rsi":             func(Settings) Strategy { return rsiStrategy{} },
	"bollinger_bands": func(Settings) Strategy { return bollinger{} },
	"ma_crossover":    func(Settings) Strategy { return maCrossover{} },
	"breakout":        func(Settings) Strategy { return breakout{} },
	"pairs_trading":   func(Settings) Strategy { return pairs{} },
}

// NewStrategy builds a fresh strategy by name.
func NewStrategy(name string, s Settings) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, StrategyNames())
	}
	return f(s), nil
}

func StrategyNames() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type buyAndHold struct{ done bool }

func (b *buyAndHold) OnDate(v *DayView) []Action {
	if b.done {
		return nil
	}
	b.done = true
	var out []Action
	for _, s := range v.Symbols {
		out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: "initial allocation", Indicator: "weight", IndicatorValue: v.Weights[s]})
	}
	return out
}

type meanReversion struct{}

func (meanReversion) OnDate(v *DayView) []Action {
	var out []Action
	for _, s := range v.Symbols {
		w, ok := tail(v.History(s), v.Settings.LookbackPeriod)
		if !ok {
			continue
		}
		mu, sd := stat.MeanStdDev(w, nil)
		if !(sd > 0) {
			continue
		}
		z := (v.Price(s) - mu) / sd
		switch {
		case v.Held(s) == 0 && z < v.Settings.EntryThreshold:
			out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: fmt.Sprintf("z-score %.2f below %.2f", z, v.Settings.EntryThreshold), Indicator: "z_score", IndicatorValue: z})
		case v.Held(s) > 0 && z > v.Settings.ExitThreshold:
			out = append(out, Action{Symbol: s, Side: Sell, Reason: fmt.Sprintf("z-score %.2f above %.2f", z, v.Settings.ExitThreshold), Indicator: "z_score", IndicatorValue: z})
		}
	}
	return out
}

type momentum struct{}

func (momentum) OnDate(v *DayView) []Action {
	type ranked struct {
		sym string
		ret float64
	}
	var rs []ranked
	for _, s := range v.Symbols {
		h := v.History(s)
		l := v.Settings.LookbackPeriod
		if len(h) <= l || h[len(h)-1-l] <= 0 {
			continue
		}
		rs = append(rs, ranked{s, h[len(h)-1]/h[len(h)-1-l] - 1})
	}
	if len(rs) == 0 {
		return nil
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].ret > rs[j].ret })
	k := int(math.Ceil(float64(len(rs)) * v.Settings.PositionSize))
	k = max(1, min(k, len(rs)))

	top := make(map[string]bool, k)
	for _, r := range rs[:k] {
		top[r.sym] = true
	}
	var out []Action
	for _, r := range rs {
		if !top[r.sym] && v.Held(r.sym) > 0 {
			out = append(out, Action{Symbol: r.sym, Side: Sell, Reason: "dropped out of top momentum", Indicator: "momentum", IndicatorValue: r.ret})
		}
	}
	for _, r := range rs[:k] {
		if v.Held(r.sym) == 0 {
			out = append(out, Action{Symbol: r.sym, Side: Buy, Value: v.Value() / float64(k), Reason: "top momentum", Indicator: "momentum", IndicatorValue: r.ret})
		}
	}
	return out
}

type rsiStrategy struct{}

func (rsiStrategy) OnDate(v *DayView) []Action {
	p := v.Settings.RSIPeriod
	var out []Action
	for _, s := range v.Symbols {
		w, ok := tail(v.History(s), p+1)
		if !ok {
			continue
		}
		r, ok := indicator.RSI(w, p).Last()
		if !ok {
			continue
		}
		switch {
		case v.Held(s) == 0 && r < v.Settings.RSIOversold:
			out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: fmt.Sprintf("RSI %.1f oversold", r), Indicator: "rsi", IndicatorValue: r})
		case v.Held(s) > 0 && r > v.Settings.RSIOverbought:
			out = append(out, Action{Symbol: s, Side: Sell, Reason: fmt.Sprintf("RSI %.1f overbought", r), Indicator: "rsi", IndicatorValue: r})
		}
	}
	return out
}

type bollinger struct{}

func (bollinger) OnDate(v *DayView) []Action {
	n := v.Settings.BollingerPeriod
	var out []Action
	for _, s := range v.Symbols {
		w, ok := tail(v.History(s), n)
		if !ok {
			continue
		}
		bb := indicator.Bollinger(w, n, v.Settings.BollingerStd)
		lo, ok1 := bb.Lower.Last()
		hi, ok2 := bb.Upper.Last()
		if !ok1 || !ok2 {
			continue
		}
		p := v.Price(s)
		switch {
		case v.Held(s) == 0 && p <= lo:
			out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: "close at or below lower band", Indicator: "lower_band", IndicatorValue: lo})
		case v.Held(s) > 0 && p >= hi:
			out = append(out, Action{Symbol: s, Side: Sell, Reason: "close at or above upper band", Indicator: "upper_band", IndicatorValue: hi})
		}
	}
	return out
}

type maCrossover struct{}

func (maCrossover) OnDate(v *DayView) []Action {
	fast, slow := v.Settings.FastPeriod, v.Settings.SlowPeriod
	var out []Action
	for _, s := range v.Symbols {
		w, ok := tail(v.History(s), max(fast, slow)+1)
		if !ok {
			continue
		}
		f := indicator.SMA(w, fast)
		sl := indicator.SMA(w, slow)
		fNow, _ := f.At(len(w) - 1)
		fPrev, _ := f.At(len(w) - 2)
		sNow, ok1 := sl.At(len(w) - 1)
		sPrev, ok2 := sl.At(len(w) - 2)
		if !ok1 || !ok2 {
			continue
		}
		switch {
		case v.Held(s) == 0 && fPrev <= sPrev && fNow > sNow:
			out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: "golden cross", Indicator: "ma_spread", IndicatorValue: fNow - sNow})
		case v.Held(s) > 0 && fPrev >= sPrev && fNow < sNow:
			out = append(out, Action{Symbol: s, Side: Sell, Reason: "death cross", Indicator: "ma_spread", IndicatorValue: fNow - sNow})
		}
	}
	return out
}

type breakout struct{}

func (breakout) OnDate(v *DayView) []Action {
	l := v.Settings.LookbackPeriod
	var out []Action
	for _, s := range v.Symbols {
		h := v.History(s)
		if len(h) < l+1 {
			continue
		}
		prior := h[len(h)-1-l : len(h)-1]
		hi, lo := prior[0], prior[0]
		for _, x := range prior {
			hi = math.Max(hi, x)
			lo = math.Min(lo, x)
		}
		p := v.Price(s)
		switch {
		case v.Held(s) == 0 && p > hi:
			out = append(out, Action{Symbol: s, Side: Buy, Value: v.slot(s), Reason: fmt.Sprintf("broke %d-day high", l), Indicator: "trailing_high", IndicatorValue: hi})
		case v.Held(s) > 0 && p < lo:
			out = append(out, Action{Symbol: s, Side: Sell, Reason: fmt.Sprintf("broke %d-day low", l), Indicator: "trailing_low", IndicatorValue: lo})
		}
	}
	return out
}

// pairs trades the ratio of the first two symbols. The expensive leg is
// never shorted; it is simply not bought.
type pairs struct{}

func (pairs) OnDate(v *DayView) []Action {
	if len(v.Symbols) < 2 {
		return nil
	}
	a, b := v.Symbols[0], v.Symbols[1]
	l := v.Settings.LookbackPeriod
	ha, okA := tail(v.History(a), l)
	hb, okB := tail(v.History(b), l)
	if !okA || !okB {
		return nil
	}
	ratio := make([]float64, l)
	for i := range ratio {
		if hb[i] <= 0 {
			return nil
		}
		ratio[i] = ha[i] / hb[i]
	}
	mu, sd := stat.MeanStdDev(ratio, nil)
	if !(sd > 0) {
		return nil
	}
	z := (ratio[l-1] - mu) / sd

	held := v.Held(a) > 0 || v.Held(b) > 0
	var out []Action
	switch {
	case !held && z > v.Settings.PairsEntryZ:
		out = append(out, Action{Symbol: b, Side: Buy, Value: v.Value() * v.Settings.PositionSize, Reason: fmt.Sprintf("ratio z %.2f: %s rich, buy %s", z, a, b), Indicator: "pair_z", IndicatorValue: z})
	case !held && z < -v.Settings.PairsEntryZ:
		out = append(out, Action{Symbol: a, Side: Buy, Value: v.Value() * v.Settings.PositionSize, Reason: fmt.Sprintf("ratio z %.2f: %s rich, buy %s", z, b, a), Indicator: "pair_z", IndicatorValue: z})
	case held && math.Abs(z) < v.Settings.PairsExitZ:
		for _, s := range []string{a, b} {
			if v.Held(s) > 0 {
				out = append(out, Action{Symbol: s, Side: Sell, Reason: fmt.Sprintf("ratio z %.2f reverted", z), Indicator: "pair_z", IndicatorValue: z})
			}
		}
	}
	return out
}
