package backtest

import (
	"errors"
	"sort"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownStrategy  = errors.New("unknown strategy")
)

// MinCommonDates is the shortest aligned window a backtest will run on.
const MinCommonDates = 50

// Params are the tunable strategy inputs. Nil or zero fields take defaults.
type Params struct {
	LookbackPeriod  int      `json:"lookbackPeriod,omitempty" yaml:"lookback_period"`
	EntryThreshold  *float64 `json:"entryThreshold,omitempty" yaml:"entry_threshold"`
	ExitThreshold   *float64 `json:"exitThreshold,omitempty" yaml:"exit_threshold"`
	PositionSize    float64  `json:"positionSize,omitempty" yaml:"position_size"`
	RSIPeriod       int      `json:"rsiPeriod,omitempty" yaml:"rsi_period"`
	RSIOversold     float64  `json:"rsiOversold,omitempty" yaml:"rsi_oversold"`
	RSIOverbought   float64  `json:"rsiOverbought,omitempty" yaml:"rsi_overbought"`
	BollingerPeriod int      `json:"bollingerPeriod,omitempty" yaml:"bollinger_period"`
	BollingerStd    float64  `json:"bollingerStd,omitempty" yaml:"bollinger_std"`
	FastPeriod      int      `json:"fastPeriod,omitempty" yaml:"fast_period"`
	SlowPeriod      int      `json:"slowPeriod,omitempty" yaml:"slow_period"`
	PairsEntryZ     float64  `json:"pairsEntryZ,omitempty" yaml:"pairs_entry_z"`
	PairsExitZ      float64  `json:"pairsExitZ,omitempty" yaml:"pairs_exit_z"`
}

// Settings is Params with every default resolved.
type Settings struct {
	LookbackPeriod  int     `json:"lookbackPeriod"`
	EntryThreshold  float64 `json:"entryThreshold"`
	ExitThreshold   float64 `json:"exitThreshold"`
	PositionSize    float64 `json:"positionSize"`
	RSIPeriod       int     `json:"rsiPeriod"`
	RSIOversold     float64 `json:"rsiOversold"`
	RSIOverbought   float64 `json:"rsiOverbought"`
	BollingerPeriod int     `json:"bollingerPeriod"`
	BollingerStd    float64 `json:"bollingerStd"`
	FastPeriod      int     `json:"fastPeriod"`
	SlowPeriod      int     `json:"slowPeriod"`
	PairsEntryZ     float64 `json:"pairsEntryZ"`
	PairsExitZ      float64 `json:"pairsExitZ"`
}

func (p Params) withDefaults() Settings {
	s := Settings{
		LookbackPeriod:  20,
		EntryThreshold:  -2,
		ExitThreshold:   0,
		PositionSize:    0.5,
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		BollingerPeriod: 20,
		BollingerStd:    2,
		FastPeriod:      10,
		SlowPeriod:      50,
		PairsEntryZ:     2,
		PairsExitZ:      0.5,
	}
	if p.LookbackPeriod > 0 {
		s.LookbackPeriod = p.LookbackPeriod
	}
	if p.EntryThreshold != nil {
		s.EntryThreshold = *p.EntryThreshold
	}
	if p.ExitThreshold != nil {
		s.ExitThreshold = *p.ExitThreshold
	}
	if p.PositionSize > 0 && p.PositionSize <= 1 {
		s.PositionSize = p.PositionSize
	}
	if p.RSIPeriod > 0 {
		s.RSIPeriod = p.RSIPeriod
	}
	if p.RSIOversold > 0 {
		s.RSIOversold = p.RSIOversold
	}
	if p.RSIOverbought > 0 {
		s.RSIOverbought = p.RSIOverbought
	}
	if p.BollingerPeriod > 0 {
		s.BollingerPeriod = p.BollingerPeriod
	}
	if p.BollingerStd > 0 {
		s.BollingerStd = p.BollingerStd
	}
	if p.FastPeriod > 0 {
		s.FastPeriod = p.FastPeriod
	}
	if p.SlowPeriod > 0 {
		s.SlowPeriod = p.SlowPeriod
	}
	if p.PairsEntryZ > 0 {
		s.PairsEntryZ = p.PairsEntryZ
	}
	if p.PairsExitZ > 0 {
		s.PairsExitZ = p.PairsExitZ
	}
	return s
}

// Request describes one backtest run.
type Request struct {
	Symbols        []string           `json:"symbols"`
	StartDate      string             `json:"startDate,omitempty"`
	EndDate        string             `json:"endDate,omitempty"`
	Strategy       string             `json:"strategy"`
	InitialCapital float64            `json:"initialCapital,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	Benchmark      string             `json:"benchmark,omitempty"`
	Params         Params             `json:"parameters"`
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Action is one order a strategy wants filled at today's close. For buys,
// Value is the cash to commit; sells always close the whole position.
type Action struct {
	Symbol         string
	Side           Side
	Value          float64
	Reason         string
	Indicator      string
	IndicatorValue float64
}

// sortActions puts sells first so their proceeds fund the same day's buys.
func sortActions(a []Action) {
	sort.SliceStable(a, func(i, j int) bool { return a[i].Side == Sell && a[j].Side != Sell })
}

type Trade struct {
	Date           string  `json:"date"`
	Symbol         string  `json:"symbol"`
	Action         Side    `json:"action"`
	Shares         int64   `json:"shares"`
	Price          float64 `json:"price"`
	Value          float64 `json:"value"`
	Reason         string  `json:"reason"`
	Indicator      string  `json:"indicator,omitempty"`
	IndicatorValue float64 `json:"indicatorValue"`
}

type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type YearReturn struct {
	Year   int     `json:"year"`
	Return float64 `json:"return"`
}

// Summary holds percentages for returns, volatility, drawdown and win rate;
// ratios are raw.
type Summary struct {
	InitialCapital   float64      `json:"initialCapital"`
	FinalValue       float64      `json:"finalValue"`
	TotalReturn      float64      `json:"totalReturn"`
	AnnualizedReturn float64      `json:"annualizedReturn"`
	Volatility       float64      `json:"volatility"`
	SharpeRatio      float64      `json:"sharpeRatio"`
	SortinoRatio     float64      `json:"sortinoRatio"`
	MaxDrawdown      float64      `json:"maxDrawdown"`
	WinRate          float64      `json:"winRate"`
	TotalTrades      int          `json:"totalTrades"`
	TradingDays      int          `json:"tradingDays"`
	YearlyReturns    []YearReturn `json:"yearlyReturns"`
}

type Benchmark struct {
	Symbol           string  `json:"symbol"`
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	ExcessReturn     float64 `json:"excessReturn"`
	Values           []Point `json:"values"`
}

type Result struct {
	Strategy        string           `json:"strategy"`
	Symbols         []string         `json:"symbols"`
	ExcludedSymbols []string         `json:"excludedSymbols"`
	StartDate       string           `json:"startDate"`
	EndDate         string           `json:"endDate"`
	Settings        Settings         `json:"parameters"`
	Summary         Summary          `json:"summary"`
	Trades          []Trade          `json:"trades"`
	Values          []Point          `json:"portfolioValues"`
	FinalHoldings   map[string]int64 `json:"finalHoldings"`
	Benchmark       *Benchmark       `json:"benchmark"`
}
