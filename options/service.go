package options

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel/fetcher"
	"marketintel/model"
)

const (
	pcrExpirations     = 3
	surfaceExpirations = 6
	historyExpirations = 12
)

// DefaultWatchlist is scanned when unusual-activity or screen requests name no symbols.
var DefaultWatchlist = []string{"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "AMZN", "TSLA", "META", "GOOGL", "AMD"}

// Service serves chain views and scans. Single-symbol calls go through src;
// multi-expiration fan-outs and watchlist scans use scan with a bounded batch.
type Service struct {
	src  fetcher.Source
	scan fetcher.Source
	now  func() time.Time
}

func NewService(src, scan fetcher.Source) *Service {
	if scan == nil {
		scan = src
	}
	return &Service{src: src, scan: scan, now: time.Now}
}

// SetClock replaces the clock (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func noOptions(symbol string) error {
	return fmt.Errorf("No options data available for %s: %w", symbol, fetcher.ErrNoData)
}

func (s *Service) expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	exps, err := s.src.Expirations(ctx, symbol)
	if err != nil {
		if errors.Is(err, fetcher.ErrNoData) {
			return nil, noOptions(symbol)
		}
		return nil, err
	}
	if len(exps) == 0 {
		return nil, noOptions(symbol)
	}
	return exps, nil
}

// Chain returns one expiration's chain with Greeks and 2% moneyness. A zero
// expiration selects the nearest one.
func (s *Service) Chain(ctx context.Context, symbol string, expiration time.Time) (*model.OptionChain, error) {
	exps, err := s.expirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if expiration.IsZero() {
		expiration = exps[0]
	}
	ch, err := s.src.OptionChain(ctx, symbol, expiration)
	if err != nil {
		if errors.Is(err, fetcher.ErrNoData) {
			return nil, noOptions(symbol)
		}
		return nil, err
	}
	Enrich(ch, s.now(), ChainBand)
	return ch, nil
}

type GreeksRow struct {
	ContractSymbol    string           `json:"contractSymbol"`
	Kind              model.OptionKind `json:"type"`
	Strike            float64          `json:"strike"`
	ImpliedVolatility float64          `json:"impliedVolatility"`
	Moneyness         model.Moneyness  `json:"moneyness"`
	model.Greeks
}

type GreeksView struct {
	Symbol          string      `json:"symbol"`
	UnderlyingPrice float64     `json:"underlyingPrice"`
	Expiration      string      `json:"expiration"`
	DaysToExpiry    int         `json:"daysToExpiry"`
	RiskFreeRate    float64     `json:"riskFreeRate"`
	Calls           []GreeksRow `json:"calls"`
	Puts            []GreeksRow `json:"puts"`
}

// Greeks flattens a chain into per-contract Greeks rows.
func (s *Service) Greeks(ctx context.Context, symbol string, expiration time.Time) (*GreeksView, error) {
	ch, err := s.Chain(ctx, symbol, expiration)
	if err != nil {
		return nil, err
	}
	rows := func(cs []model.OptionContract) []GreeksRow {
		out := make([]GreeksRow, 0, len(cs))
		for _, c := range cs {
			out = append(out, GreeksRow{
				ContractSymbol:    c.ContractSymbol,
				Kind:              c.Kind,
				Strike:            c.Strike,
				ImpliedVolatility: c.ImpliedVolatility,
				Moneyness:         c.Moneyness,
				Greeks:            *c.Greeks,
			})
		}
		return out
	}
	return &GreeksView{
		Symbol:          ch.Symbol,
		UnderlyingPrice: ch.UnderlyingPrice,
		Expiration:      ch.Expiration.Format("2006-01-02"),
		DaysToExpiry:    days(ch.Expiration, s.now()),
		RiskFreeRate:    RiskFreeRate,
		Calls:           rows(ch.Calls),
		Puts:            rows(ch.Puts),
	}, nil
}

// chains fetches up to n expirations in parallel; failed expirations are dropped.
func (s *Service) chains(ctx context.Context, symbol string, n int) ([]*model.OptionChain, error) {
	exps, err := s.expirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(exps) > n {
		exps = exps[:n]
	}
	keys := make([]string, len(exps))
	byKey := make(map[string]time.Time, len(exps))
	for i, e := range exps {
		keys[i] = e.Format(time.RFC3339)
		byKey[keys[i]] = e
	}
	res := fetcher.FetchAll(ctx, keys, fetcher.OptionsScanBatch, func(ctx context.Context, k string) (*model.OptionChain, error) {
		return s.scan.OptionChain(ctx, symbol, byKey[k])
	})
	var out []*model.OptionChain
	for _, r := range res {
		if r.Err != nil {
			log.Debug().Str("symbol", symbol).Str("expiration", r.Symbol).Err(r.Err).Msg("[options] 到期日拉取失败")
			continue
		}
		out = append(out, r.Value)
	}
	if len(out) == 0 {
		return nil, noOptions(symbol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiration.Before(out[j].Expiration) })
	return out, nil
}

func (s *Service) PutCallRatio(ctx context.Context, symbol string) (*PutCallRatio, error) {
	chs, err := s.chains(ctx, symbol, pcrExpirations)
	if err != nil {
		return nil, err
	}
	p := ComputePutCallRatio(symbol, chs)
	return &p, nil
}

func (s *Service) Surface(ctx context.Context, symbol string) (*Surface, error) {
	chs, err := s.chains(ctx, symbol, surfaceExpirations)
	if err != nil {
		return nil, err
	}
	sf := BuildSurface(symbol, chs[0].UnderlyingPrice, chs, s.now())
	return &sf, nil
}

func (s *Service) HistoricalIV(ctx context.Context, symbol string) (*HistoricalIV, error) {
	chs, err := s.chains(ctx, symbol, historyExpirations)
	if err != nil {
		return nil, err
	}
	h := BuildHistoricalIV(symbol, BuildSurface(symbol, chs[0].UnderlyingPrice, chs, s.now()))
	return &h, nil
}

// ScanError marks a symbol that could not be scanned.
type ScanError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

type UnusualReport struct {
	Contracts []Unusual   `json:"contracts"`
	Scanned   int         `json:"symbolsScanned"`
	Errors    []ScanError `json:"errors"`
}

// nearestChains loads the nearest-expiration chain of each symbol in chunks
// of ten.
func (s *Service) nearestChains(ctx context.Context, symbols []string) ([]*model.OptionChain, []ScanError) {
	if len(symbols) == 0 {
		symbols = DefaultWatchlist
	}
	res := fetcher.FetchAll(ctx, symbols, fetcher.OptionsScanBatch, func(ctx context.Context, sym string) (*model.OptionChain, error) {
		return s.scan.OptionChain(ctx, sym, time.Time{})
	})
	var chs []*model.OptionChain
	errs := []ScanError{}
	for _, r := range res {
		if r.Err != nil {
			errs = append(errs, ScanError{Symbol: r.Symbol, Error: r.Err.Error()})
			continue
		}
		chs = append(chs, r.Value)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i].Symbol < chs[j].Symbol })
	sort.Slice(errs, func(i, j int) bool { return errs[i].Symbol < errs[j].Symbol })
	return chs, errs
}

func (s *Service) UnusualActivity(ctx context.Context, symbols []string, limit int) *UnusualReport {
	chs, errs := s.nearestChains(ctx, symbols)
	rep := &UnusualReport{Contracts: []Unusual{}, Scanned: len(chs), Errors: errs}
	for _, ch := range chs {
		rep.Contracts = append(rep.Contracts, FindUnusual(ch)...)
	}
	sort.SliceStable(rep.Contracts, func(i, j int) bool { return rep.Contracts[i].VolumeOIRatio > rep.Contracts[j].VolumeOIRatio })
	if limit > 0 && len(rep.Contracts) > limit {
		rep.Contracts = rep.Contracts[:limit]
	}
	return rep
}

type ScreenReport struct {
	Criteria Criteria    `json:"criteria"`
	Results  []ScreenHit `json:"results"`
	Scanned  int         `json:"symbolsScanned"`
	Errors   []ScanError `json:"errors"`
}

// Screen filters the nearest chains of the symbols, highest volume first.
func (s *Service) Screen(ctx context.Context, symbols []string, cr Criteria) *ScreenReport {
	chs, errs := s.nearestChains(ctx, symbols)
	rep := &ScreenReport{Criteria: cr, Results: []ScreenHit{}, Scanned: len(chs), Errors: errs}
	now := s.now()
	for _, ch := range chs {
		rep.Results = append(rep.Results, Screen(ch, cr, now)...)
	}
	sort.SliceStable(rep.Results, func(i, j int) bool { return rep.Results[i].Volume > rep.Results[j].Volume })
	if cr.Limit > 0 && len(rep.Results) > cr.Limit {
		rep.Results = rep.Results[:cr.Limit]
	}
	return rep
}
