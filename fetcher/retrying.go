package fetcher

import (
	"context"
	"time"

	"marketintel/model"
)

// Retrying 单标的请求路径：每次调用先经过全局节流，失败后退避重试
//
// 批量路径直接使用底层 Source，不经过节流。
type Retrying struct {
	src      Source
	throttle *Throttle
}

var _ Source = (*Retrying)(nil)

// NewRetrying 包装数据源
func NewRetrying(src Source, t *Throttle) *Retrying {
	return &Retrying{src: src, throttle: t}
}

// Quote 实时报价
func (r *Retrying) Quote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	return Retry(ctx, r.throttle, "quote", func(ctx context.Context) (*model.QuoteSnapshot, error) {
		return r.src.Quote(ctx, symbol)
	})
}

// History K线
func (r *Retrying) History(ctx context.Context, symbol, period, interval string) (model.PriceSeries, error) {
	return Retry(ctx, r.throttle, "history", func(ctx context.Context) (model.PriceSeries, error) {
		return r.src.History(ctx, symbol, period, interval)
	})
}

// HistoryRange 日期区间K线
func (r *Retrying) HistoryRange(ctx context.Context, symbol string, start, end time.Time, interval string) (model.PriceSeries, error) {
	return Retry(ctx, r.throttle, "history", func(ctx context.Context) (model.PriceSeries, error) {
		return r.src.HistoryRange(ctx, symbol, start, end, interval)
	})
}

// Expirations 期权到期日
func (r *Retrying) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	return Retry(ctx, r.throttle, "options", func(ctx context.Context) ([]time.Time, error) {
		return r.src.Expirations(ctx, symbol)
	})
}

// OptionChain 期权链
func (r *Retrying) OptionChain(ctx context.Context, symbol string, expiration time.Time) (*model.OptionChain, error) {
	return Retry(ctx, r.throttle, "options", func(ctx context.Context) (*model.OptionChain, error) {
		return r.src.OptionChain(ctx, symbol, expiration)
	})
}

// Info 公司属性
func (r *Retrying) Info(ctx context.Context, symbol string) (*model.Info, error) {
	return Retry(ctx, r.throttle, "info", func(ctx context.Context) (*model.Info, error) {
		return r.src.Info(ctx, symbol)
	})
}

// News 新闻
func (r *Retrying) News(ctx context.Context, symbol string) ([]model.NewsItem, error) {
	return Retry(ctx, r.throttle, "news", func(ctx context.Context) ([]model.NewsItem, error) {
		return r.src.News(ctx, symbol)
	})
}
