package quant

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel/fetcher"
	"marketintel/model"
)

// Risk-free rates differ per endpoint family and are kept that way.
const (
	QuantRiskFree     = 0.02
	PortfolioRiskFree = 0.04

	DefaultBenchmark      = "SPY"
	DefaultMCPortfolios   = 5000
	MaxMCPortfolios       = 20000
	DefaultFrontierPoints = 20
	MaxFrontierPoints     = 100
)

const dateLayout = "2006-01-02"

// RangeRequest is the symbol set and date window shared by every quant call.
// Empty dates mean the year up to today.
type RangeRequest struct {
	Symbols   []string `json:"symbols"`
	StartDate string   `json:"startDate,omitempty"`
	EndDate   string   `json:"endDate,omitempty"`
}

type RiskRequest struct {
	RangeRequest
	Weights   map[string]float64 `json:"weights,omitempty"`
	Benchmark string             `json:"benchmark,omitempty"`
}

type OptimizeRequest struct {
	RangeRequest
	NumPortfolios  int      `json:"numPortfolios,omitempty"`
	FrontierPoints int      `json:"frontierPoints,omitempty"`
	MinWeight      *float64 `json:"minWeight,omitempty"`
	MaxWeight      *float64 `json:"maxWeight,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
}

type BlackLittermanRequest struct {
	RangeRequest
	Views        []View             `json:"views,omitempty"`
	MarketCaps   map[string]float64 `json:"marketCaps,omitempty"`
	RiskAversion float64            `json:"riskAversion,omitempty"`
	Tau          float64            `json:"tau,omitempty"`
	MinWeight    *float64           `json:"minWeight,omitempty"`
	MaxWeight    *float64           `json:"maxWeight,omitempty"`
}

type MonteCarloRequest struct {
	RangeRequest
	Weights         map[string]float64 `json:"weights,omitempty"`
	InitialCapital  float64            `json:"initialCapital"`
	TimeHorizonDays int                `json:"timeHorizonDays"`
	NumSimulations  int                `json:"numSimulations"`
	Method          string             `json:"method,omitempty"`
	Seed            *uint64            `json:"seed,omitempty"`
}

// AllocationRequest carries current holdings as market values per symbol.
type AllocationRequest struct {
	Holdings  map[string]float64 `json:"holdings"`
	StartDate string             `json:"startDate,omitempty"`
	EndDate   string             `json:"endDate,omitempty"`
	Objective string             `json:"objective,omitempty"`
	MinWeight *float64           `json:"minWeight,omitempty"`
	MaxWeight *float64           `json:"maxWeight,omitempty"`
}

// Service runs the quantitative engine over provider history.
type Service struct {
	src   fetcher.Source
	batch fetcher.BatchOptions
	now   func() time.Time
}

type ServiceOption func(*Service)

// WithBatch overrides the fetch concurrency.
func WithBatch(b fetcher.BatchOptions) ServiceOption {
	return func(s *Service) { s.batch = b }
}

// WithNow injects the clock used for default date ranges.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(src fetcher.Source, opts ...ServiceOption) *Service {
	s := &Service{src: src, batch: fetcher.QuantBatch, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) dateRange(r RangeRequest) (time.Time, time.Time, error) {
	end := s.now().UTC().Truncate(24 * time.Hour)
	if r.EndDate != "" {
		t, err := time.Parse(dateLayout, r.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, invalid("endDate %q is not YYYY-MM-DD", r.EndDate)
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if r.StartDate != "" {
		t, err := time.Parse(dateLayout, r.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, invalid("startDate %q is not YYYY-MM-DD", r.StartDate)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, invalid("startDate must be before endDate")
	}
	return start, end, nil
}

func cleanSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = fetcher.Normalize(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// histories fetches daily bars for every symbol in parallel and keeps the
// ones that succeeded.
func (s *Service) histories(ctx context.Context, symbols []string, start, end time.Time) map[string]model.PriceSeries {
	res := fetcher.FetchAll(ctx, symbols, s.batch, func(ctx context.Context, sym string) (model.PriceSeries, error) {
		return s.src.HistoryRange(ctx, sym, start, end.AddDate(0, 0, 1), "1d")
	})
	for _, r := range res {
		if r.Err != nil {
			log.Warn().Str("symbol", r.Symbol).Err(r.Err).Msg("[quant] history unavailable, skipping")
		}
	}
	return fetcher.Successful(res)
}

// returns loads aligned daily returns for the request.
func (s *Service) returns(ctx context.Context, r RangeRequest, minSymbols int) (*Frame, error) {
	symbols := cleanSymbols(r.Symbols)
	if len(symbols) < minSymbols {
		return nil, invalid("at least %d symbol(s) required", minSymbols)
	}
	start, end, err := s.dateRange(r)
	if err != nil {
		return nil, err
	}
	series := s.histories(ctx, symbols, start, end)
	if len(series) == 0 {
		return nil, fmt.Errorf("no historical data available for %s: %w", strings.Join(symbols, ","), fetcher.ErrNoData)
	}
	rets := Returns(Align(symbols, series))
	if len(rets.Symbols) < minSymbols {
		return nil, invalid("only %d of the requested symbols have data", len(rets.Symbols))
	}
	if rets.Len() < 2 {
		return nil, invalid("not enough overlapping history between %s and %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	return rets, nil
}

func bounds(lo, hi *float64) Bounds {
	b := DefaultBounds()
	if lo != nil {
		b.Min = *lo
	}
	if hi != nil {
		b.Max = *hi
	}
	return b
}

func seedOf(p *uint64) uint64 {
	if p != nil {
		return *p
	}
	return rand.Uint64()
}

// Analysis is the weighted portfolio's risk profile.
type Analysis struct {
	Symbols   []string           `json:"symbols"`
	Weights   map[string]float64 `json:"weights"`
	Benchmark string             `json:"benchmark"`
	Metrics   RiskMetrics        `json:"-"`
}

// Analyze computes risk metrics of the weighted portfolio against the
// benchmark. A missing benchmark leaves Beta and Alpha empty.
func (s *Service) Analyze(ctx context.Context, req RiskRequest, rf float64) (*Analysis, error) {
	rets, err := s.returns(ctx, req.RangeRequest, 1)
	if err != nil {
		return nil, err
	}
	w, err := NormalizeWeights(rets.Symbols, req.Weights)
	if err != nil {
		return nil, err
	}
	port := rets.Weighted(w)

	bm := fetcher.Normalize(req.Benchmark)
	if bm == "" {
		bm = DefaultBenchmark
	}
	start, end, _ := s.dateRange(req.RangeRequest)
	var m RiskMetrics
	if ps, ok := s.histories(ctx, []string{bm}, start, end)[bm]; ok {
		bd, br := SeriesReturns(ps)
		pa, ba := Intersect(rets.Dates, port, bd, br)
		if len(pa) > 1 {
			m = ComputeRiskMetrics(pa, ba, rf)
		} else {
			m = ComputeRiskMetrics(port, nil, rf)
		}
	} else {
		log.Warn().Str("benchmark", bm).Msg("[quant] benchmark unavailable")
		m = ComputeRiskMetrics(port, nil, rf)
	}
	return &Analysis{Symbols: rets.Symbols, Weights: weightMap(rets.Symbols, w), Benchmark: bm, Metrics: m}, nil
}

// Optimize samples random portfolios for the efficient frontier cloud.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest, rf float64) (*MonteCarloFrontierResult, error) {
	n := req.NumPortfolios
	if n == 0 {
		n = DefaultMCPortfolios
	}
	if n < 1 || n > MaxMCPortfolios {
		return nil, invalid("numPortfolios must be between 1 and %d", MaxMCPortfolios)
	}
	rets, err := s.returns(ctx, req.RangeRequest, 2)
	if err != nil {
		return nil, err
	}
	st, err := NewAssetStats(rets)
	if err != nil {
		return nil, err
	}
	seed := seedOf(req.Seed)
	res := MonteCarloFrontier(st, n, rf, rand.New(rand.NewPCG(seed, seed)))
	return &res, nil
}

// OptimizeConstrained solves for the exact max-Sharpe and min-volatility
// portfolios and traces the frontier between them.
func (s *Service) OptimizeConstrained(ctx context.Context, req OptimizeRequest, rf float64) (*ConstrainedResult, error) {
	points := req.FrontierPoints
	if points == 0 {
		points = DefaultFrontierPoints
	}
	if points < 0 || points > MaxFrontierPoints {
		return nil, invalid("frontierPoints must be between 0 and %d", MaxFrontierPoints)
	}
	b := bounds(req.MinWeight, req.MaxWeight)
	if err := b.validate(max(len(cleanSymbols(req.Symbols)), 1)); err != nil {
		return nil, err
	}
	rets, err := s.returns(ctx, req.RangeRequest, 2)
	if err != nil {
		return nil, err
	}
	st, err := NewAssetStats(rets)
	if err != nil {
		return nil, err
	}
	return OptimizeConstrained(st, b, rf, points)
}

type BlackLittermanReport struct {
	*BlackLittermanResult
	MarketWeightSource string    `json:"marketWeightSource"`
	Optimal            Portfolio `json:"optimalPortfolio"`
	MinVolatility      Portfolio `json:"minVolatilityPortfolio"`
	TradingDays        int       `json:"tradingDays"`
}

// BlackLitterman blends market-cap implied returns with views and optimizes
// on the posterior.
func (s *Service) BlackLitterman(ctx context.Context, req BlackLittermanRequest, rf float64) (*BlackLittermanReport, error) {
	for _, v := range req.Views {
		if len(v.Symbols) > 1 {
			return nil, invalid("multi-asset views are not supported")
		}
	}
	rets, err := s.returns(ctx, req.RangeRequest, 2)
	if err != nil {
		return nil, err
	}
	st, err := NewAssetStats(rets)
	if err != nil {
		return nil, err
	}
	views := make([]View, len(req.Views))
	for i, v := range req.Views {
		v.Symbol = fetcher.Normalize(v.Symbol)
		for j := range v.Symbols {
			v.Symbols[j] = fetcher.Normalize(v.Symbols[j])
		}
		views[i] = v
	}

	wm, source := s.marketWeights(ctx, st.Symbols, req.MarketCaps)
	bl, err := BlackLitterman(st, wm, views, req.RiskAversion, req.Tau)
	if err != nil {
		return nil, err
	}
	b := bounds(req.MinWeight, req.MaxWeight)
	opt, err := OptimizeConstrained(bl.Posterior, b, rf, 0)
	if err != nil {
		return nil, err
	}
	return &BlackLittermanReport{
		BlackLittermanResult: bl,
		MarketWeightSource:   source,
		Optimal:              opt.MaxSharpe,
		MinVolatility:        opt.MinVolatility,
		TradingDays:          st.Days,
	}, nil
}

// marketWeights uses the given caps, then live market caps, then equal weights.
func (s *Service) marketWeights(ctx context.Context, symbols []string, caps map[string]float64) ([]float64, string) {
	from := func(m map[string]float64) []float64 {
		w := make([]float64, len(symbols))
		total := 0.0
		for i, sym := range symbols {
			if v := m[sym]; v > 0 && finite(v) {
				w[i] = v
				total += v
			} else {
				return nil
			}
		}
		for i := range w {
			w[i] /= total
		}
		return w
	}
	if len(caps) > 0 {
		norm := make(map[string]float64, len(caps))
		for k, v := range caps {
			norm[fetcher.Normalize(k)] = v
		}
		if w := from(norm); w != nil {
			return w, "request"
		}
	}
	quotes := fetcher.FetchAll(ctx, symbols, s.batch, s.src.Quote)
	live := make(map[string]float64, len(symbols))
	for sym, q := range fetcher.Successful(quotes) {
		live[sym] = q.MarketCap
	}
	if w := from(live); w != nil {
		return w, "marketCap"
	}
	log.Warn().Strs("symbols", symbols).Msg("[quant] market caps unavailable, using equal weights")
	return equalWeights(len(symbols)), "equal"
}

// Correlation analyzes co-movement of the symbols' daily returns.
func (s *Service) Correlation(ctx context.Context, req RangeRequest) (*CorrelationResult, error) {
	if len(cleanSymbols(req.Symbols)) < 2 {
		return nil, invalid("at least 2 symbols required for correlation analysis")
	}
	rets, err := s.returns(ctx, req, 2)
	if err != nil {
		return nil, err
	}
	return Correlate(rets)
}

// MonteCarlo simulates the weighted portfolio forward. Method "correlated"
// draws asset-level returns through the covariance; anything else draws the
// portfolio's own daily return distribution.
func (s *Service) MonteCarlo(ctx context.Context, req MonteCarloRequest, defaultMethod string) (*SimulationResult, error) {
	cfg := SimConfig{
		Horizon: req.TimeHorizonDays,
		Sims:    req.NumSimulations,
		Initial: req.InitialCapital,
		Seed:    seedOf(req.Seed),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rets, err := s.returns(ctx, req.RangeRequest, 1)
	if err != nil {
		return nil, err
	}
	w, err := NormalizeWeights(rets.Symbols, req.Weights)
	if err != nil {
		return nil, err
	}

	method := strings.ToLower(req.Method)
	if method == "" {
		method = defaultMethod
	}
	switch method {
	case "correlated", "cholesky":
		mu, cov := dailyMoments(rets)
		return SimulateCorrelated(mu, cov, w, cfg)
	case "normal":
		port := rets.Weighted(w)
		return SimulateNormal(mean(port), sampleStd(port), cfg)
	default:
		return nil, invalid("unknown simulation method %q", req.Method)
	}
}

type Rebalance struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"`
	CurrentWeight float64 `json:"currentWeight"`
	TargetWeight  float64 `json:"targetWeight"`
	CurrentValue  float64 `json:"currentValue"`
	TargetValue   float64 `json:"targetValue"`
	TradeValue    float64 `json:"tradeValue"`
}

type AllocationResult struct {
	Objective      string             `json:"objective"`
	TotalValue     float64            `json:"totalValue"`
	CurrentWeights map[string]float64 `json:"currentWeights"`
	TargetWeights  map[string]float64 `json:"targetWeights"`
	Changes        map[string]float64 `json:"weightChanges"`
	Trades         []Rebalance        `json:"trades"`
	Current        Portfolio          `json:"currentPortfolio"`
	Target         Portfolio          `json:"targetPortfolio"`
	TradingDays    int                `json:"tradingDays"`
}

const holdBand = 0.005

// OptimizeAllocation compares current holdings to the optimal mix for the
// objective and lists the trades that move one to the other.
func (s *Service) OptimizeAllocation(ctx context.Context, req AllocationRequest, rf float64) (*AllocationResult, error) {
	holdings := make(map[string]float64, len(req.Holdings))
	for k, v := range req.Holdings {
		if !finite(v) || v < 0 {
			return nil, invalid("holding value for %s must be non-negative", k)
		}
		if sym := fetcher.Normalize(k); sym != "" {
			holdings[sym] += v
		}
	}
	if len(holdings) < 2 {
		return nil, invalid("at least 2 holdings required")
	}
	symbols := make([]string, 0, len(holdings))
	for k := range holdings {
		symbols = append(symbols, k)
	}
	sort.Strings(symbols)

	objective := strings.ToLower(req.Objective)
	if objective == "" {
		objective = "max_sharpe"
	}
	if objective != "max_sharpe" && objective != "min_volatility" {
		return nil, invalid("objective must be max_sharpe or min_volatility")
	}
	b := bounds(req.MinWeight, req.MaxWeight)
	if err := b.validate(len(symbols)); err != nil {
		return nil, err
	}

	rets, err := s.returns(ctx, RangeRequest{Symbols: symbols, StartDate: req.StartDate, EndDate: req.EndDate}, 2)
	if err != nil {
		return nil, err
	}
	st, err := NewAssetStats(rets)
	if err != nil {
		return nil, err
	}
	if err := b.validate(st.n()); err != nil {
		return nil, err
	}

	total := 0.0
	for _, sym := range st.Symbols {
		total += holdings[sym]
	}
	if total <= 0 {
		return nil, invalid("holdings have no value")
	}
	cur := make([]float64, st.n())
	for i, sym := range st.Symbols {
		cur[i] = holdings[sym] / total
	}

	var target []float64
	if objective == "min_volatility" {
		target, _ = MinVolatilityWeights(st, b)
	} else {
		target, _ = MaxSharpeWeights(st, b, rf)
	}

	res := &AllocationResult{
		Objective:      objective,
		TotalValue:     total,
		CurrentWeights: weightMap(st.Symbols, cur),
		TargetWeights:  weightMap(st.Symbols, target),
		Changes:        make(map[string]float64, st.n()),
		Current:        st.evaluate(cur, rf),
		Target:         st.evaluate(target, rf),
		TradingDays:    st.Days,
	}
	for i, sym := range st.Symbols {
		d := target[i] - cur[i]
		res.Changes[sym] = d
		action := "hold"
		if d > holdBand {
			action = "buy"
		} else if d < -holdBand {
			action = "sell"
		}
		res.Trades = append(res.Trades, Rebalance{
			Symbol:        sym,
			Action:        action,
			CurrentWeight: cur[i],
			TargetWeight:  target[i],
			CurrentValue:  cur[i] * total,
			TargetValue:   target[i] * total,
			TradeValue:    d * total,
		})
	}
	sort.SliceStable(res.Trades, func(a, b int) bool {
		return math.Abs(res.Trades[a].TradeValue) > math.Abs(res.Trades[b].TradeValue)
	})
	return res, nil
}
