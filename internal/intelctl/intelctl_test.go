package intelctl

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/backtest"
	"marketintel/fetcher"
	"marketintel/model"
)

type fakeSource struct {
	fetcher.Source
	quotes map[string]*model.QuoteSnapshot
	series map[string]model.PriceSeries
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (*model.QuoteSnapshot, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return q, nil
}

func (f *fakeSource) HistoryRange(_ context.Context, symbol string, _, _ time.Time, _ string) (model.PriceSeries, error) {
	s, ok := f.series[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	return s, nil
}

func linear(n int, base, step float64) model.PriceSeries {
	out := make(model.PriceSeries, 0, n)
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for len(out) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			px := base + step*float64(len(out))
			out = append(out, model.Bar{Time: d, Open: px, High: px, Low: px, Close: px, Volume: 1})
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

var fixedNow = func() time.Time { return time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC) }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "backtest.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunBacktestJSON(t *testing.T) {
	src := &fakeSource{series: map[string]model.PriceSeries{
		"AAPL": linear(100, 100, 1),
		"SPY":  linear(100, 400, 0),
	}}
	cfg := writeConfig(t, `
backtest:
  symbols: [aapl]
  start: "2024-01-01"
  end: "2024-06-01"
  initial_capital: 10000
strategy:
  type: buy_and_hold
`)
	var buf bytes.Buffer
	require.NoError(t, RunBacktest(context.Background(), src, BacktestOptions{ConfigPath: cfg, JSON: true, Now: fixedNow}, &buf))

	var res backtest.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "buy_and_hold", res.Strategy)
	assert.Equal(t, []string{"AAPL"}, res.Symbols)
	assert.Greater(t, res.Summary.FinalValue, 10000.0)
	require.NotNil(t, res.Benchmark)
	assert.Equal(t, "SPY", res.Benchmark.Symbol)
}

func TestRunBacktestSummaryToFile(t *testing.T) {
	src := &fakeSource{series: map[string]model.PriceSeries{"AAPL": linear(100, 100, 1)}}
	cfg := writeConfig(t, "backtest:\n  symbols: [AAPL]\n")
	out := filepath.Join(t.TempDir(), "reports", "bt.txt")

	require.NoError(t, RunBacktest(context.Background(), src, BacktestOptions{ConfigPath: cfg, Days: 365, Out: out, Now: fixedNow}, nil))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "buy_and_hold")
	assert.Contains(t, string(b), "期末市值")
}

func TestRunBacktestUnknownStrategy(t *testing.T) {
	cfg := writeConfig(t, "backtest:\n  symbols: [AAPL]\nstrategy:\n  type: grid\n")
	err := RunBacktest(context.Background(), &fakeSource{}, BacktestOptions{ConfigPath: cfg}, &bytes.Buffer{})
	assert.ErrorIs(t, err, backtest.ErrUnknownStrategy)
}

func TestApplyDays(t *testing.T) {
	var req backtest.Request
	assert.Empty(t, applyDays(&req, 0, fixedNow()))
	assert.Empty(t, req.StartDate)

	note := applyDays(&req, 30, fixedNow())
	assert.Equal(t, "2024-05-04", req.StartDate)
	assert.Equal(t, "2024-06-03", req.EndDate)
	assert.Contains(t, note, "last 30 days")
}

func TestRunQuoteOnce(t *testing.T) {
	src := &fakeSource{quotes: map[string]*model.QuoteSnapshot{
		"AAPL": {Symbol: "AAPL", Name: "Apple", Price: 101, PreviousClose: 100, Volume: 5000},
	}}
	var buf bytes.Buffer
	require.NoError(t, RunQuote(context.Background(), src, QuoteOptions{Symbols: []string{"aapl", "AAPL", "zzzz"}, Now: fixedNow}, &buf))
	assert.Contains(t, buf.String(), "AAPL")
	assert.Contains(t, buf.String(), "ZZZZ")

	err := RunQuote(context.Background(), src, QuoteOptions{Symbols: []string{"ZZZZ"}, Now: fixedNow}, &bytes.Buffer{})
	assert.ErrorIs(t, err, fetcher.ErrNoData)

	assert.Error(t, RunQuote(context.Background(), src, QuoteOptions{Symbols: []string{" "}}, &bytes.Buffer{}))
}
