package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketintel/cache"
	"marketintel/fetcher"
	"marketintel/indicator"
	"marketintel/model"
)

const maxBatchSymbols = 50

// quoteView 报价响应，附带涨跌额与涨跌幅
type quoteView struct {
	*model.QuoteSnapshot
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

func newQuoteView(q *model.QuoteSnapshot) quoteView {
	return quoteView{QuoteSnapshot: q, Change: q.Change(), ChangePercent: q.ChangePercent()}
}

func (h *Handler) loadQuote(sym string) loader {
	return func(ctx context.Context) (any, error) {
		q, err := h.src.Quote(ctx, sym)
		if err != nil {
			return nil, err
		}
		return newQuoteView(q), nil
	}
}

// Realtime 单个标的实时报价
func (h *Handler) Realtime(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, "realtime quote", sym, cache.Key("realtime", sym), cache.TTLRealtime, h.loadQuote(sym))
}

// splitSymbols 解析逗号分隔的代码列表，规范化并去重，保持顺序
func splitSymbols(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(raw, ",") {
		s := fetcher.Normalize(p)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type symbolError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// RealtimeBatch 批量实时报价
//
// 先逐个查缓存，未命中的并发拉取；单个失败在结果中置 null 并记入 errors。
func (h *Handler) RealtimeBatch(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbols"))
	if len(symbols) == 0 {
		badRequest(c, "symbols parameter is required")
		return
	}
	if len(symbols) > maxBatchSymbols {
		badRequest(c, fmt.Sprintf("at most %d symbols per request", maxBatchSymbols))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	quotes := make(map[string]any, len(symbols))
	var misses []string
	for _, sym := range symbols {
		var raw json.RawMessage
		if h.cache.Get(ctx, cache.Key("realtime", sym), &raw) {
			quotes[sym] = raw
			continue
		}
		misses = append(misses, sym)
	}

	errs := []symbolError{}
	for _, r := range fetcher.FetchAll(ctx, misses, fetcher.RealtimeBatch, h.scan.Quote) {
		if r.Err != nil {
			quotes[r.Symbol] = nil
			errs = append(errs, symbolError{Symbol: r.Symbol, Error: r.Err.Error()})
			continue
		}
		v := Sanitize(newQuoteView(r.Value))
		h.cache.Set(ctx, cache.Key("realtime", r.Symbol), v, cache.TTLRealtime)
		quotes[r.Symbol] = v
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Symbol < errs[j].Symbol })

	respond(c, http.StatusOK, gin.H{
		"quotes": quotes,
		"errors": errs,
		"count":  len(symbols) - len(errs),
	})
}

var (
	historyPeriods   = set("1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max")
	historyIntervals = set("1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h", "1d", "5d", "1wk", "1mo", "3mo")
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// Historical 历史K线
func (h *Handler) Historical(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	period := c.DefaultQuery("period", "1y")
	interval := c.DefaultQuery("interval", "1d")
	if !historyPeriods[period] {
		badRequest(c, "invalid period: "+period)
		return
	}
	if !historyIntervals[interval] {
		badRequest(c, "invalid interval: "+interval)
		return
	}
	h.serve(c, "historical data", sym, cache.Key("historical", sym, period, interval), cache.TTLHistorical,
		func(ctx context.Context) (any, error) {
			s, err := h.src.History(ctx, sym, period, interval)
			if err != nil {
				return nil, err
			}
			return gin.H{"symbol": sym, "period": period, "interval": interval, "count": len(s), "data": s}, nil
		})
}

// timeframe 图表周期对应的拉取区间与K线周期
type timeframe struct {
	Period   string
	Interval string
}

var timeframes = map[string]timeframe{
	"1m":  {"7d", "1m"},
	"5m":  {"60d", "5m"},
	"15m": {"60d", "15m"},
	"30m": {"60d", "30m"},
	"1h":  {"730d", "1h"},
	"1D":  {"max", "1d"},
	"1W":  {"max", "1wk"},
	"1M":  {"max", "1mo"},
}

type candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type chartPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

type volumeBar struct {
	Time  int64 `json:"time"`
	Value int64 `json:"value"`
	Up    bool  `json:"up"`
}

type chartMACD struct {
	MACD      []chartPoint `json:"macd"`
	Signal    []chartPoint `json:"signal"`
	Histogram []chartPoint `json:"histogram"`
}

type chartBands struct {
	Upper  []chartPoint `json:"upper"`
	Middle []chartPoint `json:"middle"`
	Lower  []chartPoint `json:"lower"`
}

type chartIndicators struct {
	SMA20     []chartPoint `json:"sma20"`
	SMA50     []chartPoint `json:"sma50"`
	RSI       []chartPoint `json:"rsi"`
	MACD      chartMACD    `json:"macd"`
	Bollinger chartBands   `json:"bollinger"`
}

// chartData 蜡烛图 + 成交量 + 指标叠加
type chartData struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Period     string          `json:"period"`
	Interval   string          `json:"interval"`
	Candles    []candle        `json:"candles"`
	Volume     []volumeBar     `json:"volume"`
	Indicators chartIndicators `json:"indicators"`
}

// overlay 把指标线按下标对齐到K线时间，未定义的点略去
func overlay(s model.PriceSeries, l indicator.Line) []chartPoint {
	pts := l.Points()
	out := make([]chartPoint, len(pts))
	for i, p := range pts {
		out[i] = chartPoint{Time: s[p.Index].Time.Unix(), Value: p.Value}
	}
	return out
}

func buildChart(sym, tf string, f timeframe, s model.PriceSeries) chartData {
	d := chartData{
		Symbol:    sym,
		Timeframe: tf,
		Period:    f.Period,
		Interval:  f.Interval,
		Candles:   make([]candle, len(s)),
		Volume:    make([]volumeBar, len(s)),
	}
	for i, b := range s {
		t := b.Time.Unix()
		d.Candles[i] = candle{Time: t, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
		d.Volume[i] = volumeBar{Time: t, Value: b.Volume, Up: b.Close >= b.Open}
	}

	closes := s.Closes()
	macd := indicator.MACD(closes, 12, 26, 9)
	bb := indicator.Bollinger(closes, 20, 2)
	d.Indicators = chartIndicators{
		SMA20: overlay(s, indicator.SMA(closes, 20)),
		SMA50: overlay(s, indicator.SMA(closes, 50)),
		RSI:   overlay(s, indicator.RSI(closes, 14)),
		MACD: chartMACD{
			MACD:      overlay(s, macd.MACD),
			Signal:    overlay(s, macd.Signal),
			Histogram: overlay(s, macd.Histogram),
		},
		Bollinger: chartBands{
			Upper:  overlay(s, bb.Upper),
			Middle: overlay(s, bb.Middle),
			Lower:  overlay(s, bb.Lower),
		},
	}
	return d
}

func (h *Handler) loadChart(sym, tf string) loader {
	f := timeframes[tf]
	return func(ctx context.Context) (any, error) {
		s, err := h.src.History(ctx, sym, f.Period, f.Interval)
		if err != nil {
			return nil, err
		}
		return buildChart(sym, tf, f, s), nil
	}
}

func (h *Handler) chart(c *gin.Context, family, op string) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	tf := c.DefaultQuery("timeframe", "1D")
	f, ok := timeframes[tf]
	if !ok {
		badRequest(c, "invalid timeframe: "+tf)
		return
	}
	h.serve(c, op, sym, cache.Key(family, sym, tf), cache.ChartTTL(f.Interval), h.loadChart(sym, tf))
}

// Chart 个股图表
func (h *Handler) Chart(c *gin.Context) { h.chart(c, "chart", "chart data") }

// IndexChart 指数图表
func (h *Handler) IndexChart(c *gin.Context) { h.chart(c, "index-chart", "index chart") }

type indexInfo struct {
	Symbol string
	Name   string
}

var marketIndices = []indexInfo{
	{"^GSPC", "S&P 500"},
	{"^DJI", "Dow Jones"},
	{"^IXIC", "NASDAQ"},
	{"^RUT", "Russell 2000"},
	{"^VIX", "VIX"},
	{"^TNX", "10Y Treasury"},
}

type indexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

func (h *Handler) loadIndices(ctx context.Context) (any, error) {
	symbols := make([]string, len(marketIndices))
	for i, ix := range marketIndices {
		symbols[i] = ix.Symbol
	}
	res := fetcher.ByKey(fetcher.FetchAll(ctx, symbols, fetcher.RealtimeBatch, h.scan.Quote))

	indices := []indexQuote{}
	errs := []symbolError{}
	for _, ix := range marketIndices {
		r := res[ix.Symbol]
		if r.Err != nil {
			errs = append(errs, symbolError{Symbol: ix.Symbol, Error: r.Err.Error()})
			continue
		}
		q := r.Value
		indices = append(indices, indexQuote{
			Symbol:        ix.Symbol,
			Name:          ix.Name,
			Price:         q.Price,
			Change:        q.Change(),
			ChangePercent: q.ChangePercent(),
		})
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("all index quotes failed: %w", fetcher.ErrUpstream)
	}
	return gin.H{"indices": indices, "errors": errs, "updatedAt": h.now().UTC().Format(time.RFC3339)}, nil
}

// Indices 主要指数
func (h *Handler) Indices(c *gin.Context) {
	h.serve(c, "market indices", "", cache.Key("indices"), cache.TTLIndices, h.loadIndices)
}

var sectorETFs = []indexInfo{
	{"XLK", "Technology"},
	{"XLF", "Financials"},
	{"XLV", "Health Care"},
	{"XLE", "Energy"},
	{"XLY", "Consumer Discretionary"},
	{"XLP", "Consumer Staples"},
	{"XLI", "Industrials"},
	{"XLB", "Materials"},
	{"XLU", "Utilities"},
	{"XLRE", "Real Estate"},
	{"XLC", "Communication Services"},
}

// 1d/1w/1m/3m 对应的回看交易日数
var sectorHorizons = []struct {
	Name string
	Bars int
}{{"1d", 1}, {"1w", 5}, {"1m", 21}, {"3m", 63}}

type sectorPerf struct {
	Symbol  string              `json:"symbol"`
	Name    string              `json:"name"`
	Price   float64             `json:"price"`
	Returns map[string]*float64 `json:"returns"`
}

// trailingReturn 最新收盘相对 n 根之前的涨跌幅(%)，长度不足时为空
func trailingReturn(closes []float64, n int) *float64 {
	if len(closes) <= n {
		return nil
	}
	base := closes[len(closes)-1-n]
	if base == 0 {
		return nil
	}
	r := (closes[len(closes)-1]/base - 1) * 100
	return &r
}

func (h *Handler) loadSectors(ctx context.Context) (any, error) {
	symbols := make([]string, len(sectorETFs))
	for i, s := range sectorETFs {
		symbols[i] = s.Symbol
	}
	res := fetcher.ByKey(fetcher.FetchAll(ctx, symbols, fetcher.SectorBatch, func(ctx context.Context, sym string) (model.PriceSeries, error) {
		return h.scan.History(ctx, sym, "6mo", "1d")
	}))

	sectors := []sectorPerf{}
	errs := []symbolError{}
	for _, s := range sectorETFs {
		r := res[s.Symbol]
		if r.Err == nil && len(r.Value) == 0 {
			r.Err = fetcher.ErrNoData
		}
		if r.Err != nil {
			errs = append(errs, symbolError{Symbol: s.Symbol, Error: r.Err.Error()})
			continue
		}
		closes := r.Value.Closes()
		p := sectorPerf{Symbol: s.Symbol, Name: s.Name, Price: closes[len(closes)-1], Returns: map[string]*float64{}}
		for _, hz := range sectorHorizons {
			p.Returns[hz.Name] = trailingReturn(closes, hz.Bars)
		}
		sectors = append(sectors, p)
	}
	if len(sectors) == 0 {
		return nil, fmt.Errorf("all sector histories failed: %w", fetcher.ErrUpstream)
	}
	sort.SliceStable(sectors, func(i, j int) bool {
		a, b := sectors[i].Returns["1d"], sectors[j].Returns["1d"]
		if a == nil || b == nil {
			return a != nil
		}
		return *a > *b
	})
	return gin.H{"sectors": sectors, "errors": errs, "updatedAt": h.now().UTC().Format(time.RFC3339)}, nil
}

// Sectors 板块表现
func (h *Handler) Sectors(c *gin.Context) {
	h.serve(c, "sector performance", "", cache.Key("sectors"), cache.TTLSectors, h.loadSectors)
}
