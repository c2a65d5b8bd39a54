package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAllIsolatesFailures(t *testing.T) {
	symbols := []string{"AAPL", "BAD", "PANIC", "SLOW", "MSFT"}
	fn := func(ctx context.Context, s string) (float64, error) {
		switch s {
		case "BAD":
			return 0, errors.New("boom")
		case "PANIC":
			panic("kaboom")
		case "SLOW":
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return float64(len(s)), nil
	}

	res := FetchAll(context.Background(), symbols, BatchOptions{Workers: 5, Timeout: 50 * time.Millisecond}, fn)
	require.Len(t, res, len(symbols))

	byKey := ByKey(res)
	assert.NoError(t, byKey["AAPL"].Err)
	assert.Equal(t, 4.0, byKey["AAPL"].Value)
	assert.NoError(t, byKey["MSFT"].Err)
	assert.EqualError(t, byKey["BAD"].Err, "boom")
	require.Error(t, byKey["PANIC"].Err)
	assert.True(t, strings.Contains(byKey["PANIC"].Err.Error(), "panic"))
	assert.ErrorIs(t, byKey["SLOW"].Err, context.DeadlineExceeded)

	ok := Successful(res)
	assert.Len(t, ok, 2)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	var cur, peak int32
	fn := func(ctx context.Context, s string) (int, error) {
		n := atomic.AddInt32(&cur, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&cur, -1)
		return 1, nil
	}

	symbols := make([]string, 12)
	for i := range symbols {
		symbols[i] = string(rune('A' + i))
	}

	res := FetchAll(context.Background(), symbols, BatchOptions{Workers: 3}, fn)
	assert.Len(t, res, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))

	atomic.StoreInt32(&peak, 0)
	res = FetchAll(context.Background(), symbols, BatchOptions{Workers: 10, ChunkSize: 2}, fn)
	assert.Len(t, res, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFetchAllEmpty(t *testing.T) {
	res := FetchAll(context.Background(), nil, RealtimeBatch, func(ctx context.Context, s string) (int, error) {
		return 0, nil
	})
	assert.Empty(t, res)
}
