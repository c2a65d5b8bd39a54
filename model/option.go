package model

import "time"

// OptionKind 期权类型
type OptionKind string

const (
	Call OptionKind = "call"
	Put  OptionKind = "put"
)

// Moneyness 价内/平值/价外
type Moneyness string

const (
	ITM Moneyness = "ITM"
	ATM Moneyness = "ATM"
	OTM Moneyness = "OTM"
)

// Greeks 希腊值
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionContract 单个期权合约，Greeks 与 Moneyness 按请求计算，不落缓存之外的存储
type OptionContract struct {
	ContractSymbol    string     `json:"contractSymbol"`    // 合约代码
	Kind              OptionKind `json:"type"`              // call/put
	Strike            float64    `json:"strike"`            // 行权价
	Expiration        time.Time  `json:"expiration"`        // 到期日
	Bid               float64    `json:"bid"`               // 买价
	Ask               float64    `json:"ask"`               // 卖价
	LastPrice         float64    `json:"lastPrice"`         // 最新价
	Change            float64    `json:"change"`            // 涨跌
	PercentChange     float64    `json:"percentChange"`     // 涨跌幅
	Volume            int64      `json:"volume"`            // 成交量
	OpenInterest      int64      `json:"openInterest"`      // 持仓量
	ImpliedVolatility float64    `json:"impliedVolatility"` // 隐含波动率(小数)
	InTheMoney        bool       `json:"inTheMoney"`        // 上游给出的价内标记
	LastTradeDate     time.Time  `json:"lastTradeDate"`     // 最后成交时间

	Greeks    *Greeks   `json:"greeks,omitempty"`
	Moneyness Moneyness `json:"moneyness,omitempty"`
}

// Mid 买卖中间价，缺报价时退回最新价
func (c *OptionContract) Mid() float64 {
	if c.Bid > 0 && c.Ask > 0 {
		return (c.Bid + c.Ask) / 2
	}
	return c.LastPrice
}

// OptionChain 某一到期日的期权链
type OptionChain struct {
	Symbol          string           `json:"symbol"`
	UnderlyingPrice float64          `json:"underlyingPrice"`
	Expiration      time.Time        `json:"expiration"`
	Expirations     []time.Time      `json:"expirations"`
	Calls           []OptionContract `json:"calls"`
	Puts            []OptionContract `json:"puts"`
}
