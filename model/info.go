package model

import "time"

// Info 上游返回的稀疏属性集合，任何字段都可能缺失
//
// 缺失字段的默认值统一在本文件的映射函数中处理，调用方不再各自兜底。
type Info struct {
	Symbol    string `json:"symbol"`
	LongName  string `json:"long_name,omitempty"`
	ShortName string `json:"short_name,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Country   string `json:"country,omitempty"`
	Website   string `json:"website,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	QuoteType string `json:"quote_type,omitempty"`

	Employees *float64 `json:"employees,omitempty"`

	// 行情
	RegularMarketPrice  *float64 `json:"regular_market_price,omitempty"`
	PreviousClose       *float64 `json:"previous_close,omitempty"`
	MarketCap           *float64 `json:"market_cap,omitempty"`
	Beta                *float64 `json:"beta,omitempty"`
	FiftyTwoWeekHigh    *float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow     *float64 `json:"fifty_two_week_low,omitempty"`
	FiftyDayAverage     *float64 `json:"fifty_day_average,omitempty"`
	TwoHundredDayAvg    *float64 `json:"two_hundred_day_average,omitempty"`
	AverageVolume       *float64 `json:"average_volume,omitempty"`
	SharesOutstanding   *float64 `json:"shares_outstanding,omitempty"`
	FloatShares         *float64 `json:"float_shares,omitempty"`
	SharesShort         *float64 `json:"shares_short,omitempty"`
	ShortRatio          *float64 `json:"short_ratio,omitempty"`
	ShortPercentOfFloat *float64 `json:"short_percent_of_float,omitempty"`

	// 估值
	TrailingPE      *float64 `json:"trailing_pe,omitempty"`
	ForwardPE       *float64 `json:"forward_pe,omitempty"`
	PEGRatio        *float64 `json:"peg_ratio,omitempty"`
	PriceToBook     *float64 `json:"price_to_book,omitempty"`
	PriceToSales    *float64 `json:"price_to_sales,omitempty"`
	EnterpriseValue *float64 `json:"enterprise_value,omitempty"`
	EVToEBITDA      *float64 `json:"ev_to_ebitda,omitempty"`
	EVToRevenue     *float64 `json:"ev_to_revenue,omitempty"`
	BookValue       *float64 `json:"book_value,omitempty"`
	TrailingEPS     *float64 `json:"trailing_eps,omitempty"`
	ForwardEPS      *float64 `json:"forward_eps,omitempty"`

	// 财务
	TotalRevenue      *float64 `json:"total_revenue,omitempty"`
	RevenueGrowth     *float64 `json:"revenue_growth,omitempty"`
	EarningsGrowth    *float64 `json:"earnings_growth,omitempty"`
	GrossMargins      *float64 `json:"gross_margins,omitempty"`
	OperatingMargins  *float64 `json:"operating_margins,omitempty"`
	ProfitMargins     *float64 `json:"profit_margins,omitempty"`
	EBITDA            *float64 `json:"ebitda,omitempty"`
	ReturnOnEquity    *float64 `json:"return_on_equity,omitempty"`
	ReturnOnAssets    *float64 `json:"return_on_assets,omitempty"`
	TotalCash         *float64 `json:"total_cash,omitempty"`
	TotalDebt         *float64 `json:"total_debt,omitempty"`
	DebtToEquity      *float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio      *float64 `json:"current_ratio,omitempty"`
	QuickRatio        *float64 `json:"quick_ratio,omitempty"`
	FreeCashflow      *float64 `json:"free_cashflow,omitempty"`
	OperatingCashflow *float64 `json:"operating_cashflow,omitempty"`
	DividendRate      *float64 `json:"dividend_rate,omitempty"`
	DividendYield     *float64 `json:"dividend_yield,omitempty"`
	PayoutRatio       *float64 `json:"payout_ratio,omitempty"`

	// 分析师
	TargetMeanPrice    *float64 `json:"target_mean_price,omitempty"`
	TargetHighPrice    *float64 `json:"target_high_price,omitempty"`
	TargetLowPrice     *float64 `json:"target_low_price,omitempty"`
	TargetMedianPrice  *float64 `json:"target_median_price,omitempty"`
	RecommendationMean *float64 `json:"recommendation_mean,omitempty"`
	RecommendationKey  string   `json:"recommendation_key,omitempty"`
	AnalystCount       *float64 `json:"analyst_count,omitempty"`

	RecommendationTrend []RecommendationPeriod `json:"recommendation_trend,omitempty"`
	GradeChanges        []GradeChange          `json:"grade_changes,omitempty"`

	// 财报
	EarningsHistory  []EarningsEvent    `json:"earnings_history,omitempty"`
	QuarterlyResults []QuarterlyResult  `json:"quarterly_results,omitempty"`
	NextEarnings     []time.Time        `json:"next_earnings,omitempty"`
	EarningsEstimate *float64           `json:"earnings_estimate,omitempty"`
	RevenueEstimate  *float64           `json:"revenue_estimate,omitempty"`
	Institutions     []Holder           `json:"institutions,omitempty"`
	Funds            []Holder           `json:"funds,omitempty"`
	InsidersPct      *float64           `json:"insiders_pct,omitempty"`
	InstitutionsPct  *float64           `json:"institutions_pct,omitempty"`
	InstitutionCount *float64           `json:"institution_count,omitempty"`
	InsiderTrades    []InsiderTransaction `json:"insider_trades,omitempty"`
}

// RecommendationPeriod 分析师评级分布
type RecommendationPeriod struct {
	Period     string `json:"period"`
	StrongBuy  int    `json:"strongBuy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strongSell"`
}

// GradeChange 评级调整
type GradeChange struct {
	Date      time.Time `json:"date"`
	Firm      string    `json:"firm"`
	ToGrade   string    `json:"toGrade"`
	FromGrade string    `json:"fromGrade"`
	Action    string    `json:"action"`
}

// EarningsEvent 历史财报
type EarningsEvent struct {
	Quarter         time.Time `json:"quarter"`
	EPSActual       *float64  `json:"epsActual"`
	EPSEstimate     *float64  `json:"epsEstimate"`
	SurprisePercent *float64  `json:"surprisePercent"`
}

// QuarterlyResult 季度营收/利润
type QuarterlyResult struct {
	Period   string   `json:"period"`
	Revenue  *float64 `json:"revenue"`
	Earnings *float64 `json:"earnings"`
}

// Holder 机构/基金持仓
type Holder struct {
	Organization string    `json:"organization"`
	PctHeld      *float64  `json:"pctHeld"`
	Position     *float64  `json:"position"`
	Value        *float64  `json:"value"`
	ReportDate   time.Time `json:"reportDate"`
}

// InsiderTransaction 内部人交易
type InsiderTransaction struct {
	Name       string    `json:"name"`
	Relation   string    `json:"relation"`
	Text       string    `json:"text"`
	Shares     *float64  `json:"shares"`
	Value      *float64  `json:"value"`
	Date       time.Time `json:"date"`
}

// Num 读取可选数值，缺失时返回默认值
func Num(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Fundamentals 基本面视图
type Fundamentals struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	Country     string  `json:"country"`
	Website     string  `json:"website"`
	Description string  `json:"description"`
	Employees   float64 `json:"employees"`

	MarketCap       float64  `json:"marketCap"`
	EnterpriseValue *float64 `json:"enterpriseValue"`
	TrailingPE      *float64 `json:"peRatio"`
	ForwardPE       *float64 `json:"forwardPE"`
	PEGRatio        *float64 `json:"pegRatio"`
	PriceToBook     *float64 `json:"priceToBook"`
	PriceToSales    *float64 `json:"priceToSales"`
	EVToEBITDA      *float64 `json:"evToEbitda"`
	EVToRevenue     *float64 `json:"evToRevenue"`

	Revenue           *float64 `json:"revenue"`
	RevenueGrowth     *float64 `json:"revenueGrowth"`
	EarningsGrowth    *float64 `json:"earningsGrowth"`
	GrossMargin       *float64 `json:"grossMargin"`
	OperatingMargin   *float64 `json:"operatingMargin"`
	ProfitMargin      *float64 `json:"profitMargin"`
	EBITDA            *float64 `json:"ebitda"`
	ReturnOnEquity    *float64 `json:"roe"`
	ReturnOnAssets    *float64 `json:"roa"`
	TotalCash         *float64 `json:"totalCash"`
	TotalDebt         *float64 `json:"totalDebt"`
	DebtToEquity      *float64 `json:"debtToEquity"`
	CurrentRatio      *float64 `json:"currentRatio"`
	QuickRatio        *float64 `json:"quickRatio"`
	FreeCashflow      *float64 `json:"freeCashFlow"`
	OperatingCash     *float64 `json:"operatingCashFlow"`
	EPS               *float64 `json:"eps"`
	ForwardEPS        *float64 `json:"forwardEps"`
	BookValue         *float64 `json:"bookValue"`
	DividendRate      float64  `json:"dividendRate"`
	DividendYield     float64  `json:"dividendYield"`
	PayoutRatio       float64  `json:"payoutRatio"`
	Beta              float64  `json:"beta"`
	FiftyTwoWeekHigh  *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow   *float64 `json:"fiftyTwoWeekLow"`
	FiftyDayAverage   *float64 `json:"fiftyDayAverage"`
	TwoHundredDayAvg  *float64 `json:"twoHundredDayAverage"`
	SharesOutstanding *float64 `json:"sharesOutstanding"`
	FloatShares       *float64 `json:"floatShares"`
	ShortRatio        *float64 `json:"shortRatio"`
	ShortPercent      *float64 `json:"shortPercentOfFloat"`
}

// Fundamentals 统一默认值映射：市值/股息/beta 缺失取默认数值，其余保持 null
func (in *Info) Fundamentals() Fundamentals {
	name := in.LongName
	if name == "" {
		name = in.ShortName
	}
	if name == "" {
		name = in.Symbol
	}
	return Fundamentals{
		Symbol:            in.Symbol,
		CompanyName:       name,
		Sector:            orDefault(in.Sector, "Unknown"),
		Industry:          orDefault(in.Industry, "Unknown"),
		Country:           in.Country,
		Website:           in.Website,
		Description:       in.Summary,
		Employees:         Num(in.Employees, 0),
		MarketCap:         Num(in.MarketCap, 0),
		EnterpriseValue:   in.EnterpriseValue,
		TrailingPE:        in.TrailingPE,
		ForwardPE:         in.ForwardPE,
		PEGRatio:          in.PEGRatio,
		PriceToBook:       in.PriceToBook,
		PriceToSales:      in.PriceToSales,
		EVToEBITDA:        in.EVToEBITDA,
		EVToRevenue:       in.EVToRevenue,
		Revenue:           in.TotalRevenue,
		RevenueGrowth:     in.RevenueGrowth,
		EarningsGrowth:    in.EarningsGrowth,
		GrossMargin:       in.GrossMargins,
		OperatingMargin:   in.OperatingMargins,
		ProfitMargin:      in.ProfitMargins,
		EBITDA:            in.EBITDA,
		ReturnOnEquity:    in.ReturnOnEquity,
		ReturnOnAssets:    in.ReturnOnAssets,
		TotalCash:         in.TotalCash,
		TotalDebt:         in.TotalDebt,
		DebtToEquity:      in.DebtToEquity,
		CurrentRatio:      in.CurrentRatio,
		QuickRatio:        in.QuickRatio,
		FreeCashflow:      in.FreeCashflow,
		OperatingCash:     in.OperatingCashflow,
		EPS:               in.TrailingEPS,
		ForwardEPS:        in.ForwardEPS,
		BookValue:         in.BookValue,
		DividendRate:      Num(in.DividendRate, 0),
		DividendYield:     Num(in.DividendYield, 0),
		PayoutRatio:       Num(in.PayoutRatio, 0),
		Beta:              Num(in.Beta, 1.0),
		FiftyTwoWeekHigh:  in.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:   in.FiftyTwoWeekLow,
		FiftyDayAverage:   in.FiftyDayAverage,
		TwoHundredDayAvg:  in.TwoHundredDayAvg,
		SharesOutstanding: in.SharesOutstanding,
		FloatShares:       in.FloatShares,
		ShortRatio:        in.ShortRatio,
		ShortPercent:      in.ShortPercentOfFloat,
	}
}

// Earnings 财报视图
type Earnings struct {
	Symbol           string            `json:"symbol"`
	History          []EarningsEvent   `json:"history"`
	Quarterly        []QuarterlyResult `json:"quarterly"`
	NextEarningsDate *time.Time        `json:"nextEarningsDate"`
	EPSEstimate      *float64          `json:"epsEstimate"`
	RevenueEstimate  *float64          `json:"revenueEstimate"`
	TrailingEPS      *float64          `json:"trailingEps"`
	ForwardEPS       *float64          `json:"forwardEps"`
	BeatCount        int               `json:"beatCount"`
	MissCount        int               `json:"missCount"`
}

// Earnings 财报映射，统计超预期/不及预期次数
func (in *Info) Earnings() Earnings {
	out := Earnings{
		Symbol:          in.Symbol,
		History:         nonNil(in.EarningsHistory),
		Quarterly:       nonNil(in.QuarterlyResults),
		EPSEstimate:     in.EarningsEstimate,
		RevenueEstimate: in.RevenueEstimate,
		TrailingEPS:     in.TrailingEPS,
		ForwardEPS:      in.ForwardEPS,
	}
	if len(in.NextEarnings) > 0 {
		t := in.NextEarnings[0]
		out.NextEarningsDate = &t
	}
	for _, e := range in.EarningsHistory {
		if e.EPSActual == nil || e.EPSEstimate == nil {
			continue
		}
		if *e.EPSActual >= *e.EPSEstimate {
			out.BeatCount++
		} else {
			out.MissCount++
		}
	}
	return out
}

// Analysts 分析师视图
type Analysts struct {
	Symbol             string                 `json:"symbol"`
	CurrentPrice       float64                `json:"currentPrice"`
	TargetMean         *float64               `json:"targetMeanPrice"`
	TargetHigh         *float64               `json:"targetHighPrice"`
	TargetLow          *float64               `json:"targetLowPrice"`
	TargetMedian       *float64               `json:"targetMedianPrice"`
	Upside             *float64               `json:"upsidePercent"`
	RecommendationMean *float64               `json:"recommendationMean"`
	Recommendation     string                 `json:"recommendation"`
	AnalystCount       float64                `json:"numberOfAnalysts"`
	Trend              []RecommendationPeriod `json:"recommendationTrend"`
	Changes            []GradeChange          `json:"upgradesDowngrades"`
}

// Analysts 分析师映射，评级缺失时为 "none"
func (in *Info) Analysts() Analysts {
	price := Num(in.RegularMarketPrice, 0)
	out := Analysts{
		Symbol:             in.Symbol,
		CurrentPrice:       price,
		TargetMean:         in.TargetMeanPrice,
		TargetHigh:         in.TargetHighPrice,
		TargetLow:          in.TargetLowPrice,
		TargetMedian:       in.TargetMedianPrice,
		RecommendationMean: in.RecommendationMean,
		Recommendation:     orDefault(in.RecommendationKey, "none"),
		AnalystCount:       Num(in.AnalystCount, 0),
		Trend:              nonNil(in.RecommendationTrend),
		Changes:            nonNil(in.GradeChanges),
	}
	if in.TargetMeanPrice != nil && price > 0 {
		up := (*in.TargetMeanPrice - price) / price * 100
		out.Upside = &up
	}
	return out
}

// Ownership 持股结构视图
type Ownership struct {
	Symbol           string               `json:"symbol"`
	InsidersPercent  float64              `json:"insidersPercentHeld"`
	InstitutionsPct  float64              `json:"institutionsPercentHeld"`
	InstitutionCount float64              `json:"institutionsCount"`
	Institutions     []Holder             `json:"institutionalHolders"`
	Funds            []Holder             `json:"mutualFundHolders"`
	InsiderTrades    []InsiderTransaction `json:"insiderTransactions"`
	SharesShort      *float64             `json:"sharesShort"`
	ShortPercent     *float64             `json:"shortPercentOfFloat"`
}

// Ownership 持股映射，百分比缺失取 0
func (in *Info) Ownership() Ownership {
	return Ownership{
		Symbol:           in.Symbol,
		InsidersPercent:  Num(in.InsidersPct, 0),
		InstitutionsPct:  Num(in.InstitutionsPct, 0),
		InstitutionCount: Num(in.InstitutionCount, 0),
		Institutions:     nonNil(in.Institutions),
		Funds:            nonNil(in.Funds),
		InsiderTrades:    nonNil(in.InsiderTrades),
		SharesShort:      in.SharesShort,
		ShortPercent:     in.ShortPercentOfFloat,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
