package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"marketintel/metrics"
)

// BatchOptions 并发批量拉取参数
type BatchOptions struct {
	Workers   int           // 并发上限
	ChunkSize int           // 分块大小，0 表示不分块；块与块之间串行
	Timeout   time.Duration // 单个调用超时，0 表示沿用 ctx
}

// 各接口的并发配置
var (
	QuantBatch       = BatchOptions{Workers: 10, Timeout: 15 * time.Second}
	RealtimeBatch    = BatchOptions{Workers: 20, ChunkSize: 20, Timeout: 10 * time.Second}
	OptionsScanBatch = BatchOptions{Workers: 10, ChunkSize: 10, Timeout: 30 * time.Second}
	SectorBatch      = BatchOptions{Workers: 11, Timeout: 15 * time.Second}
)

// Result 单个标的的拉取结果，Err 非空时 Value 无意义
type Result[T any] struct {
	Symbol string
	Value  T
	Err    error
}

// FetchAll 在有界并发下对每个标的调用 fn
//
// 单个标的的失败、超时或 panic 只体现在它自己的 Result.Err 中，不会中断整批。
// 结果按完成顺序返回，调用方应按 Symbol 重新关联。
func FetchAll[T any](ctx context.Context, symbols []string, opts BatchOptions, fn func(ctx context.Context, symbol string) (T, error)) []Result[T] {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = len(symbols)
	}

	var mu sync.Mutex
	results := make([]Result[T], 0, len(symbols))

	for start := 0; start < len(symbols); start += chunk {
		end := start + chunk
		if end > len(symbols) {
			end = len(symbols)
		}

		var g errgroup.Group
		g.SetLimit(workers)
		for _, sym := range symbols[start:end] {
			g.Go(func() error {
				r := callOne(ctx, sym, opts.Timeout, fn)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	metrics.BatchResults.WithLabelValues("ok").Add(float64(len(results) - failed))
	metrics.BatchResults.WithLabelValues("error").Add(float64(failed))
	if failed > 0 {
		log.Debug().Int("total", len(results)).Int("failed", failed).Msg("[fetch] 批量拉取部分失败")
	}
	return results
}

func callOne[T any](ctx context.Context, symbol string, timeout time.Duration, fn func(ctx context.Context, symbol string) (T, error)) (r Result[T]) {
	r.Symbol = symbol
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("symbol", symbol).Interface("panic", p).Msg("[fetch] 拉取 panic")
			r.Err = fmt.Errorf("fetch %s: panic: %v", symbol, p)
		}
	}()
	r.Value, r.Err = fn(ctx, symbol)
	return r
}

// ByKey 按标的重新关联结果
func ByKey[T any](results []Result[T]) map[string]Result[T] {
	m := make(map[string]Result[T], len(results))
	for _, r := range results {
		m[r.Symbol] = r
	}
	return m
}

// Successful 只保留成功结果，按标的索引
func Successful[T any](results []Result[T]) map[string]T {
	m := make(map[string]T, len(results))
	for _, r := range results {
		if r.Err == nil {
			m[r.Symbol] = r.Value
		}
	}
	return m
}
