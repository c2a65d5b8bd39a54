package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/fetcher"
	"marketintel/model"
)

type fakeSource struct {
	fetcher.Source
	mu       sync.Mutex
	quotes   map[string]*model.QuoteSnapshot
	history  map[string]model.PriceSeries
	calls    map[string]int
	lastArgs [2]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes:  map[string]*model.QuoteSnapshot{},
		history: map[string]model.PriceSeries{},
		calls:   map[string]int{},
	}
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (*model.QuoteSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["quote:"+symbol]++
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	cp := *q
	return &cp, nil
}

func (f *fakeSource) History(_ context.Context, symbol, period, interval string) (model.PriceSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["history:"+symbol]++
	f.lastArgs = [2]string{period, interval}
	s, ok := f.history[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return s, nil
}

func (f *fakeSource) Expirations(context.Context, string) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeSource) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func bars(n int) model.PriceSeries {
	s := make(model.PriceSeries, n)
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range s {
		px := 100 + float64(i%7)
		s[i] = model.Bar{Time: day.AddDate(0, 0, i), Open: px - 1, High: px + 1, Low: px - 2, Close: px, Volume: 1000}
	}
	return s
}

func newTestServer(t *testing.T, src *fakeSource, cfg Config) http.Handler {
	t.Helper()
	now := time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)
	return NewServer(cfg, Deps{Source: src, Now: func() time.Time { return now }}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMarketStatusUsesClock(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, body := do(t, h, http.MethodGet, "/api/market/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "open", body["session"])
	assert.Equal(t, true, body["isOpen"])
}

func TestRealtimeIsCached(t *testing.T) {
	src := newFakeSource()
	src.quotes["AAPL"] = &model.QuoteSnapshot{Symbol: "AAPL", Price: 102, PreviousClose: 100}
	h := newTestServer(t, src, Config{})

	w, body := do(t, h, http.MethodGet, "/api/realtime/aapl", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, "AAPL", body["symbol"])
	assert.InDelta(t, 2.0, body["change"], 1e-9)
	assert.InDelta(t, 2.0, body["change_percent"], 1e-9)

	w, _ = do(t, h, http.MethodGet, "/api/realtime/AAPL", "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, 1, src.count("quote:AAPL"))
}

func TestRealtimeUnknownSymbol(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, body := do(t, h, http.MethodGet, "/api/realtime/ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ZZZZ", body["symbol"])
}

func TestRealtimeBatchIsNotASymbol(t *testing.T) {
	src := newFakeSource()
	src.quotes["AAPL"] = &model.QuoteSnapshot{Symbol: "AAPL", Price: 10, PreviousClose: 10}
	h := newTestServer(t, src, Config{})

	w, body := do(t, h, http.MethodGet, "/api/realtime/batch?symbols=aapl,ZZZZ,AAPL", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, src.count("quote:BATCH"))

	quotes := body["quotes"].(map[string]any)
	require.Contains(t, quotes, "AAPL")
	require.Contains(t, quotes, "ZZZZ")
	assert.NotNil(t, quotes["AAPL"])
	assert.Nil(t, quotes["ZZZZ"])
	assert.Len(t, body["errors"], 1)
	assert.EqualValues(t, 1, body["count"])

	// 第二次只拉取未缓存的失败项
	do(t, h, http.MethodGet, "/api/realtime/batch?symbols=AAPL,ZZZZ", "")
	assert.Equal(t, 1, src.count("quote:AAPL"))
	assert.Equal(t, 2, src.count("quote:ZZZZ"))
}

func TestFanOutsUseScanSource(t *testing.T) {
	single, scan := newFakeSource(), newFakeSource()
	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "TSLA"} {
		q := &model.QuoteSnapshot{Symbol: sym, Price: 10, PreviousClose: 10}
		single.quotes[sym] = q
		scan.quotes[sym] = q
	}
	srv := NewServer(Config{}, Deps{Source: single, Scan: scan})
	h := srv.Handler()

	w, _ := do(t, h, http.MethodGet, "/api/realtime/batch?symbols=AAPL,MSFT", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, scan.count("quote:AAPL"))
	assert.Equal(t, 1, scan.count("quote:MSFT"))
	assert.Equal(t, 0, single.count("quote:AAPL"))

	w, _ = do(t, h, http.MethodGet, "/api/realtime/TSLA", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, single.count("quote:TSLA"))
	assert.Equal(t, 0, scan.count("quote:TSLA"))

	for _, task := range srv.WarmupTasks([]string{"NVDA"}) {
		if task.Name == "realtime NVDA" {
			_, err := task.Load(context.Background())
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, scan.count("quote:NVDA"))
	assert.Equal(t, 0, single.count("quote:NVDA"))
}

func TestRealtimeBatchValidation(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, _ := do(t, h, http.MethodGet, "/api/realtime/batch", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	syms := make([]string, maxBatchSymbols+1)
	for i := range syms {
		syms[i] = "S" + strconv.Itoa(i)
	}
	w, _ = do(t, h, http.MethodGet, "/api/realtime/batch?symbols="+strings.Join(syms, ","), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoricalValidatesParams(t *testing.T) {
	src := newFakeSource()
	src.history["MSFT"] = bars(10)
	h := newTestServer(t, src, Config{})

	w, _ := do(t, h, http.MethodGet, "/api/historical/MSFT?period=7y", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, h, http.MethodGet, "/api/historical/MSFT", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10, body["count"])
	assert.Equal(t, [2]string{"1y", "1d"}, src.lastArgs)
}

func TestChartTimeframes(t *testing.T) {
	src := newFakeSource()
	src.history["AAPL"] = bars(60)
	h := newTestServer(t, src, Config{})

	w, body := do(t, h, http.MethodGet, "/api/chart/AAPL?timeframe=1D", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]string{"max", "1d"}, src.lastArgs)
	assert.Len(t, body["candles"], 60)
	assert.Len(t, body["volume"], 60)
	ind := body["indicators"].(map[string]any)
	assert.Len(t, ind["sma20"], 41)
	assert.Len(t, ind["sma50"], 11)

	do(t, h, http.MethodGet, "/api/market/index-chart/AAPL?timeframe=1h", "")
	assert.Equal(t, [2]string{"730d", "1h"}, src.lastArgs)
	do(t, h, http.MethodGet, "/api/chart/AAPL?timeframe=1m", "")
	assert.Equal(t, [2]string{"7d", "1m"}, src.lastArgs)

	w, _ = do(t, h, http.MethodGet, "/api/chart/AAPL?timeframe=2D", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionsWithoutExpirations(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, body := do(t, h, http.MethodGet, "/api/options/chain/ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body["error"], "No options data available")
	assert.Contains(t, body["error"], "ZZZZ")
	assert.Equal(t, "ZZZZ", body["symbol"])
}

func TestOptionsScreenRejectsBadCriteria(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, _ := do(t, h, http.MethodGet, "/api/options/screen?type=straddle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, h, http.MethodGet, "/api/options/screen?minIV=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuantValidationIs400(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})

	w, _ := do(t, h, http.MethodPost, "/api/quant/risk-metrics", `{"symbols":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/portfolio/optimize", `{"symbols":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, h, http.MethodPost, "/api/quant/backtest", `{"symbols":["AAPL"],"strategy":"martingale"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "martingale")
}

func TestUpstreamFailureHidesDetails(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{})
	w, body := do(t, h, http.MethodGet, "/api/market/indices", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "market indices failed", body["error"])
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, newFakeSource(), Config{RateLimit: 1, RateBurst: 2})
	codes := make([]int, 3)
	for i := range codes {
		w, _ := do(t, h, http.MethodGet, "/api/market/status", "")
		codes[i] = w.Code
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	w, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSanitizeReplacesNonFinite(t *testing.T) {
	type inner struct {
		V float64 `json:"v"`
	}
	type sample struct {
		X     float64   `json:"x"`
		Y     []float64 `json:"y"`
		Z     *float64  `json:"z,omitempty"`
		Inner inner     `json:"inner"`
	}
	v := sample{X: math.NaN(), Y: []float64{1, math.Inf(1)}, Inner: inner{V: math.Inf(-1)}}

	b, err := json.Marshal(Sanitize(v))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":null,"y":[1,null],"inner":{"v":null}}`, string(b))

	ok := sample{X: 1, Y: []float64{2}}
	b, err = json.Marshal(Sanitize(ok))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"y":[2],"inner":{"v":0}}`, string(b))
}

func TestSanitizePromotesEmbeddedFields(t *testing.T) {
	q := &model.QuoteSnapshot{Symbol: "SPY", Price: math.NaN(), PreviousClose: 500, UpdatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	b, err := json.Marshal(Sanitize(newQuoteView(q)))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "SPY", out["symbol"])
	assert.Nil(t, out["price"])
	assert.Nil(t, out["change"])
	assert.Equal(t, "2025-01-02T00:00:00Z", out["updated_at"])
	assert.NotContains(t, out, "Info")
}
