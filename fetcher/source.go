package fetcher

import (
	"context"
	"time"

	"marketintel/model"
)

// Source 行情数据源，所有调用均为阻塞调用，可能失败或超时
type Source interface {
	// Quote 实时报价快照
	Quote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error)

	// History 按区间(如 1y/max/60d)与周期(如 1d/1h)拉取K线
	History(ctx context.Context, symbol, period, interval string) (model.PriceSeries, error)

	// HistoryRange 按起止日期拉取K线，end 为开区间
	HistoryRange(ctx context.Context, symbol string, start, end time.Time, interval string) (model.PriceSeries, error)

	// Expirations 期权到期日列表
	Expirations(ctx context.Context, symbol string) ([]time.Time, error)

	// OptionChain 指定到期日的期权链，expiration 为零值时取最近到期日
	OptionChain(ctx context.Context, symbol string, expiration time.Time) (*model.OptionChain, error)

	// Info 公司/估值/财务等稀疏属性
	Info(ctx context.Context, symbol string) (*model.Info, error)

	// News 相关新闻
	News(ctx context.Context, symbol string) ([]model.NewsItem, error)
}
