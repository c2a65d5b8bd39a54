package model

import "time"

// Bar 单根K线 (OHLCV)
type Bar struct {
	Time   time.Time `json:"time"`   // 时间戳
	Open   float64   `json:"open"`   // 开盘价
	High   float64   `json:"high"`   // 最高价
	Low    float64   `json:"low"`    // 最低价
	Close  float64   `json:"close"`  // 收盘价
	Volume int64     `json:"volume"` // 成交量
}

// PriceSeries 单个标的的K线序列，按时间升序且无重复时间戳
type PriceSeries []Bar

// Closes 收盘价序列
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Dates 日期序列 (YYYY-MM-DD)
func (s PriceSeries) Dates() []string {
	out := make([]string, len(s))
	for i, b := range s {
		out[i] = b.Time.Format("2006-01-02")
	}
	return out
}

// Last 最后一根K线
func (s PriceSeries) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// QuoteSnapshot 实时报价快照
type QuoteSnapshot struct {
	Symbol        string    `json:"symbol"`         // 代码
	Name          string    `json:"name"`           // 名称
	Price         float64   `json:"price"`          // 最新价
	PreviousClose float64   `json:"previous_close"` // 昨收
	Open          float64   `json:"open"`           // 今开
	DayHigh       float64   `json:"day_high"`       // 最高
	DayLow        float64   `json:"day_low"`        // 最低
	Volume        int64     `json:"volume"`         // 成交量
	MarketCap     float64   `json:"market_cap"`     // 市值
	Currency      string    `json:"currency"`       // 币种
	Exchange      string    `json:"exchange"`       // 交易所
	UpdatedAt     time.Time `json:"updated_at"`     // 更新时间
	Info          *Info     `json:"-"`              // 附加属性
}

// Change 计算涨跌额
func (q *QuoteSnapshot) Change() float64 {
	return q.Price - q.PreviousClose
}

// ChangePercent 计算涨跌幅
func (q *QuoteSnapshot) ChangePercent() float64 {
	if q.PreviousClose == 0 {
		return 0
	}
	return (q.Price - q.PreviousClose) / q.PreviousClose * 100
}

// NewsItem 新闻条目
type NewsItem struct {
	Title     string    `json:"title"`
	Publisher string    `json:"publisher"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Type      string    `json:"type"`
	Related   []string  `json:"related,omitempty"`
}
