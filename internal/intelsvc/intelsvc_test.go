package intelsvc

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/config"
	"marketintel/fetcher"
	"marketintel/model"
)

type instantSource struct {
	fetcher.Source
	calls atomic.Int64
}

func (s *instantSource) Quote(_ context.Context, symbol string) (*model.QuoteSnapshot, error) {
	s.calls.Add(1)
	return &model.QuoteSnapshot{Symbol: symbol, Price: 100, PreviousClose: 99}, nil
}

func TestBatchSourceBypassesThrottle(t *testing.T) {
	cfg := config.DefaultConfig
	raw := &instantSource{}
	src, scan := splitSources(raw, &cfg)

	_, throttled := src.(*fetcher.Retrying)
	assert.True(t, throttled)
	assert.True(t, scan == fetcher.Source(raw))

	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
	}
	start := time.Now()
	res := fetcher.FetchAll(context.Background(), symbols, fetcher.RealtimeBatch, scan.Quote)
	elapsed := time.Since(start)

	require.Len(t, res, len(symbols))
	for _, r := range res {
		assert.NoError(t, r.Err, r.Symbol)
	}
	assert.EqualValues(t, len(symbols), raw.calls.Load())
	// 20 个即时返回的调用应远小于一次节流间隔
	assert.Less(t, elapsed, cfg.ThrottleBase)
}

func TestSingleSymbolSourceIsThrottled(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.ThrottleBase = 50 * time.Millisecond
	cfg.ThrottleJitterMin = 0
	cfg.ThrottleJitterMax = 10 * time.Millisecond
	src, _ := splitSources(&instantSource{}, &cfg)

	ctx := context.Background()
	start := time.Now()
	for range 3 {
		_, err := src.Quote(ctx, "AAPL")
		require.NoError(t, err)
	}
	// 首次调用不等待，之后每次至少间隔 base
	assert.GreaterOrEqual(t, time.Since(start), 2*cfg.ThrottleBase)
}
