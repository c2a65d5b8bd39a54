package intelctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"marketintel/fetcher"
	"marketintel/internal/terminalui"
	"marketintel/trading"
)

// QuoteOptions quote 子命令参数
type QuoteOptions struct {
	Symbols []string
	// Watch 刷新间隔，0 表示只拉取一次
	Watch time.Duration
	Now   func() time.Time
}

// fetchSnapshot 并发拉取一帧报价
func fetchSnapshot(ctx context.Context, src fetcher.Source, symbols []string, now time.Time) terminalui.Snapshot {
	snap := terminalui.Snapshot{Now: now, Market: trading.StatusAt(now)}
	for _, r := range fetcher.FetchAll(ctx, symbols, fetcher.RealtimeBatch, src.Quote) {
		if r.Err != nil {
			snap.Failed = append(snap.Failed, r.Symbol)
			continue
		}
		snap.Quotes = append(snap.Quotes, r.Value)
	}
	return snap
}

// RunQuote 终端行情。Watch 为 0 时输出一帧后返回
func RunQuote(ctx context.Context, src fetcher.Source, opts QuoteOptions, w io.Writer) error {
	var symbols []string
	seen := map[string]bool{}
	for _, s := range opts.Symbols {
		s = fetcher.Normalize(s)
		if s != "" && !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if opts.Watch <= 0 {
		snap := fetchSnapshot(ctx, src, symbols, now())
		terminalui.RenderPlain(w, snap)
		if len(snap.Quotes) == 0 {
			return fmt.Errorf("no quotes available: %w", fetcher.ErrNoData)
		}
		return nil
	}

	ticker := time.NewTicker(opts.Watch)
	defer ticker.Stop()
	for {
		snap := fetchSnapshot(ctx, src, symbols, now())
		snap.Refresh = opts.Watch
		terminalui.Render(w, snap)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
