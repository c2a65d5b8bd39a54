package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel/metrics"
	"marketintel/model"
)

// YahooConfig Yahoo 数据源配置
type YahooConfig struct {
	BaseURL        string
	QuoteTimeout   time.Duration
	HistoryTimeout time.Duration
	OptionsTimeout time.Duration
	Client         *http.Client
}

// YahooSource Yahoo Finance 数据源
type YahooSource struct {
	baseURL  string
	host     string
	client   *http.Client
	mapper   *SymbolMapper
	breakers *breakers

	quoteTimeout   time.Duration
	historyTimeout time.Duration
	optionsTimeout time.Duration
}

var _ Source = (*YahooSource)(nil)

// infoModules quoteSummary 一次拉取的全部模块
var infoModules = []string{
	"assetProfile", "price", "summaryDetail", "defaultKeyStatistics", "financialData",
	"recommendationTrend", "upgradeDowngradeHistory", "earningsHistory", "earnings",
	"calendarEvents", "institutionOwnership", "fundOwnership", "majorHoldersBreakdown",
	"insiderTransactions",
}

// NewYahooSource 创建 Yahoo 数据源
func NewYahooSource(cfg YahooConfig, mapper *SymbolMapper) *YahooSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 10 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 15 * time.Second
	}
	if cfg.OptionsTimeout <= 0 {
		cfg.OptionsTimeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	host := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &YahooSource{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		host:           host,
		client:         client,
		mapper:         mapper,
		breakers:       newBreakers(),
		quoteTimeout:   cfg.QuoteTimeout,
		historyTimeout: cfg.HistoryTimeout,
		optionsTimeout: cfg.OptionsTimeout,
	}
}

// get 发起一次上游 GET 请求
func (y *YahooSource) get(ctx context.Context, op, path string, q url.Values, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := y.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	start := time.Now()
	body, err := y.breakers.do(y.host, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
		req.Header.Set("Accept", "application/json")

		resp, err := y.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s read body: %v", ErrUpstream, op, err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s: %w", op, ErrNoData)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("%w: %s: status %d", ErrUpstream, op, resp.StatusCode)
		}
		return b, nil
	})

	outcome := "ok"
	switch {
	case errors.Is(err, ErrNoData):
		outcome = "no_data"
	case err != nil:
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(op, outcome).Inc()
	metrics.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && outcome == "error" {
		log.Debug().Err(err).Str("op", op).Dur("latency", time.Since(start)).Msg("[fetch] 上游调用失败")
	}
	return body, err
}

// ---------- chart ----------

type yahooChart struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *yahooError   `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string   `json:"symbol"`
		Currency             string   `json:"currency"`
		ExchangeName         string   `json:"exchangeName"`
		FullExchangeName     string   `json:"fullExchangeName"`
		LongName             string   `json:"longName"`
		ShortName            string   `json:"shortName"`
		RegularMarketPrice   *float64 `json:"regularMarketPrice"`
		ChartPreviousClose   *float64 `json:"chartPreviousClose"`
		PreviousClose        *float64 `json:"previousClose"`
		RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
		RegularMarketVolume  *float64 `json:"regularMarketVolume"`
		RegularMarketTime    int64    `json:"regularMarketTime"`
		FiftyTwoWeekHigh     *float64 `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow      *float64 `json:"fiftyTwoWeekLow"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func (y *YahooSource) chart(ctx context.Context, op, symbol string, q url.Values, timeout time.Duration) (*chartResult, error) {
	q.Set("includePrePost", "false")
	q.Set("events", "div,splits")
	body, err := y.get(ctx, op, "/v8/finance/chart/"+url.PathEscape(y.mapper.ToProvider(symbol)), q, timeout)
	if err != nil {
		return nil, err
	}
	var c yahooChart
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("%w: %s decode: %v", ErrUpstream, op, err)
	}
	if c.Chart.Error != nil {
		if strings.EqualFold(c.Chart.Error.Code, "Not Found") {
			return nil, fmt.Errorf("%s %s: %w", op, symbol, ErrNoData)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUpstream, op, c.Chart.Error.Description)
	}
	if len(c.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s %s: %w", op, symbol, ErrNoData)
	}
	return &c.Chart.Result[0], nil
}

// bars 解析K线：跳过空值K线，按时间排序去重；日线及以上周期按复权收盘价调整
func (r *chartResult) bars(adjust bool) model.PriceSeries {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	var adj []*float64
	if adjust && len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	out := make(model.PriceSeries, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := at(q.Close, i)
		if c == nil || *c <= 0 {
			continue
		}
		b := model.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   deref(at(q.Open, i), *c),
			High:   deref(at(q.High, i), *c),
			Low:    deref(at(q.Low, i), *c),
			Close:  *c,
			Volume: int64(deref(at(q.Volume, i), 0)),
		}
		if a := at(adj, i); a != nil && *a > 0 {
			ratio := *a / *c
			b.Open *= ratio
			b.High *= ratio
			b.Low *= ratio
			b.Close = *a
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.Time.Equal(dedup[len(dedup)-1].Time) {
			dedup[len(dedup)-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

func at(s []*float64, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func deref(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func isDailyOrLonger(interval string) bool {
	switch interval {
	case "1d", "5d", "1wk", "1mo", "3mo":
		return true
	}
	return false
}

// History 按区间拉取K线
func (y *YahooSource) History(ctx context.Context, symbol, period, interval string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", interval)
	r, err := y.chart(ctx, "history", symbol, q, y.historyTimeout)
	if err != nil {
		return nil, err
	}
	bars := r.bars(isDailyOrLonger(interval))
	if len(bars) == 0 {
		return nil, fmt.Errorf("history %s: %w", symbol, ErrNoData)
	}
	return bars, nil
}

// HistoryRange 按日期区间拉取K线
func (y *YahooSource) HistoryRange(ctx context.Context, symbol string, start, end time.Time, interval string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	r, err := y.chart(ctx, "history", symbol, q, y.historyTimeout)
	if err != nil {
		return nil, err
	}
	bars := r.bars(isDailyOrLonger(interval))
	if len(bars) == 0 {
		return nil, fmt.Errorf("history %s %s..%s: %w", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), ErrNoData)
	}
	return bars, nil
}

// Quote 实时报价：以最近几日日线的 meta 为主，市值等字段从 quoteSummary 补充
func (y *YahooSource) Quote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	q := url.Values{}
	q.Set("range", "5d")
	q.Set("interval", "1d")
	r, err := y.chart(ctx, "quote", symbol, q, y.quoteTimeout)
	if err != nil {
		return nil, err
	}

	bars := r.bars(false)
	m := r.Meta
	snap := &model.QuoteSnapshot{
		Symbol:    Normalize(symbol),
		Name:      m.LongName,
		Currency:  m.Currency,
		Exchange:  m.FullExchangeName,
		UpdatedAt: time.Now().UTC(),
	}
	if snap.Name == "" {
		snap.Name = m.ShortName
	}
	if snap.Exchange == "" {
		snap.Exchange = m.ExchangeName
	}
	if m.RegularMarketTime > 0 {
		snap.UpdatedAt = time.Unix(m.RegularMarketTime, 0).UTC()
	}

	last, ok := bars.Last()
	switch {
	case m.RegularMarketPrice != nil:
		snap.Price = *m.RegularMarketPrice
	case ok:
		snap.Price = last.Close
	default:
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrNoData)
	}

	// 昨收优先取倒数第二根日线，meta 中 chartPreviousClose 是区间起点前的收盘价
	switch {
	case m.PreviousClose != nil:
		snap.PreviousClose = *m.PreviousClose
	case len(bars) >= 2:
		snap.PreviousClose = bars[len(bars)-2].Close
	case m.ChartPreviousClose != nil:
		snap.PreviousClose = *m.ChartPreviousClose
	}
	if ok {
		snap.Open = last.Open
		snap.DayHigh = last.High
		snap.DayLow = last.Low
		snap.Volume = last.Volume
	}
	if m.RegularMarketDayHigh != nil {
		snap.DayHigh = *m.RegularMarketDayHigh
	}
	if m.RegularMarketDayLow != nil {
		snap.DayLow = *m.RegularMarketDayLow
	}
	if m.RegularMarketVolume != nil {
		snap.Volume = int64(*m.RegularMarketVolume)
	}

	// 市值不在 chart 中，补充失败不影响报价
	if info, err := y.summary(ctx, "quote", symbol, []string{"price", "summaryDetail"}, y.quoteTimeout); err == nil {
		snap.Info = info
		snap.MarketCap = model.Num(info.MarketCap, 0)
		if snap.Name == "" {
			snap.Name = info.LongName
		}
	}
	return snap, nil
}

// ---------- quoteSummary ----------

// raw Yahoo 数值字段 {raw, fmt}
type raw struct {
	Raw *float64 `json:"raw"`
}

type summaryResult struct {
	AssetProfile *struct {
		Sector              string   `json:"sector"`
		Industry            string   `json:"industry"`
		Country             string   `json:"country"`
		Website             string   `json:"website"`
		LongBusinessSummary string   `json:"longBusinessSummary"`
		FullTimeEmployees   *float64 `json:"fullTimeEmployees"`
	} `json:"assetProfile"`
	Price *struct {
		LongName                   string `json:"longName"`
		ShortName                  string `json:"shortName"`
		Currency                   string `json:"currency"`
		ExchangeName               string `json:"exchangeName"`
		QuoteType                  string `json:"quoteType"`
		RegularMarketPrice         raw    `json:"regularMarketPrice"`
		RegularMarketPreviousClose raw    `json:"regularMarketPreviousClose"`
		MarketCap                  raw    `json:"marketCap"`
	} `json:"price"`
	SummaryDetail *struct {
		PreviousClose       raw `json:"previousClose"`
		MarketCap           raw `json:"marketCap"`
		Beta                raw `json:"beta"`
		TrailingPE          raw `json:"trailingPE"`
		ForwardPE           raw `json:"forwardPE"`
		PriceToSales        raw `json:"priceToSalesTrailing12Months"`
		DividendRate        raw `json:"dividendRate"`
		DividendYield       raw `json:"dividendYield"`
		PayoutRatio         raw `json:"payoutRatio"`
		FiftyTwoWeekHigh    raw `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow     raw `json:"fiftyTwoWeekLow"`
		FiftyDayAverage     raw `json:"fiftyDayAverage"`
		TwoHundredDayAvg    raw `json:"twoHundredDayAverage"`
		AverageVolume       raw `json:"averageVolume"`
	} `json:"summaryDetail"`
	DefaultKeyStatistics *struct {
		EnterpriseValue     raw `json:"enterpriseValue"`
		PEGRatio            raw `json:"pegRatio"`
		PriceToBook         raw `json:"priceToBook"`
		BookValue           raw `json:"bookValue"`
		TrailingEPS         raw `json:"trailingEps"`
		ForwardEPS          raw `json:"forwardEps"`
		EVToEBITDA          raw `json:"enterpriseToEbitda"`
		EVToRevenue         raw `json:"enterpriseToRevenue"`
		SharesOutstanding   raw `json:"sharesOutstanding"`
		FloatShares         raw `json:"floatShares"`
		SharesShort         raw `json:"sharesShort"`
		ShortRatio          raw `json:"shortRatio"`
		ShortPercentOfFloat raw `json:"shortPercentOfFloat"`
		HeldPercentInsiders raw `json:"heldPercentInsiders"`
		HeldPercentInst     raw `json:"heldPercentInstitutions"`
		Beta                raw `json:"beta"`
	} `json:"defaultKeyStatistics"`
	FinancialData *struct {
		CurrentPrice       raw    `json:"currentPrice"`
		TargetHighPrice    raw    `json:"targetHighPrice"`
		TargetLowPrice     raw    `json:"targetLowPrice"`
		TargetMeanPrice    raw    `json:"targetMeanPrice"`
		TargetMedianPrice  raw    `json:"targetMedianPrice"`
		RecommendationMean raw    `json:"recommendationMean"`
		RecommendationKey  string `json:"recommendationKey"`
		AnalystCount       raw    `json:"numberOfAnalystOpinions"`
		TotalCash          raw    `json:"totalCash"`
		TotalDebt          raw    `json:"totalDebt"`
		TotalRevenue       raw    `json:"totalRevenue"`
		EBITDA             raw    `json:"ebitda"`
		DebtToEquity       raw    `json:"debtToEquity"`
		CurrentRatio       raw    `json:"currentRatio"`
		QuickRatio         raw    `json:"quickRatio"`
		ReturnOnAssets     raw    `json:"returnOnAssets"`
		ReturnOnEquity     raw    `json:"returnOnEquity"`
		RevenueGrowth      raw    `json:"revenueGrowth"`
		EarningsGrowth     raw    `json:"earningsGrowth"`
		GrossMargins       raw    `json:"grossMargins"`
		OperatingMargins   raw    `json:"operatingMargins"`
		ProfitMargins      raw    `json:"profitMargins"`
		FreeCashflow       raw    `json:"freeCashflow"`
		OperatingCashflow  raw    `json:"operatingCashflow"`
	} `json:"financialData"`
	RecommendationTrend *struct {
		Trend []model.RecommendationPeriod `json:"trend"`
	} `json:"recommendationTrend"`
	UpgradeDowngradeHistory *struct {
		History []struct {
			EpochGradeDate int64  `json:"epochGradeDate"`
			Firm           string `json:"firm"`
			ToGrade        string `json:"toGrade"`
			FromGrade      string `json:"fromGrade"`
			Action         string `json:"action"`
		} `json:"history"`
	} `json:"upgradeDowngradeHistory"`
	EarningsHistory *struct {
		History []struct {
			Quarter         raw `json:"quarter"`
			EPSActual       raw `json:"epsActual"`
			EPSEstimate     raw `json:"epsEstimate"`
			SurprisePercent raw `json:"surprisePercent"`
		} `json:"history"`
	} `json:"earningsHistory"`
	Earnings *struct {
		FinancialsChart struct {
			Quarterly []struct {
				Date     string `json:"date"`
				Revenue  raw    `json:"revenue"`
				Earnings raw    `json:"earnings"`
			} `json:"quarterly"`
		} `json:"financialsChart"`
	} `json:"earnings"`
	CalendarEvents *struct {
		Earnings struct {
			EarningsDate    []raw `json:"earningsDate"`
			EarningsAverage raw   `json:"earningsAverage"`
			RevenueAverage  raw   `json:"revenueAverage"`
		} `json:"earnings"`
	} `json:"calendarEvents"`
	InstitutionOwnership *holderList `json:"institutionOwnership"`
	FundOwnership        *holderList `json:"fundOwnership"`
	MajorHoldersBreakdown *struct {
		InsidersPercentHeld     raw `json:"insidersPercentHeld"`
		InstitutionsPercentHeld raw `json:"institutionsPercentHeld"`
		InstitutionsCount       raw `json:"institutionsCount"`
	} `json:"majorHoldersBreakdown"`
	InsiderTransactions *struct {
		Transactions []struct {
			FilerName     string `json:"filerName"`
			FilerRelation string `json:"filerRelation"`
			TransactionText string `json:"transactionText"`
			Shares        raw    `json:"shares"`
			Value         raw    `json:"value"`
			StartDate     raw    `json:"startDate"`
		} `json:"transactions"`
	} `json:"insiderTransactions"`
}

type holderList struct {
	OwnershipList []struct {
		Organization string `json:"organization"`
		PctHeld      raw    `json:"pctHeld"`
		Position     raw    `json:"position"`
		Value        raw    `json:"value"`
		ReportDate   raw    `json:"reportDate"`
	} `json:"ownershipList"`
}

func (h *holderList) holders() []model.Holder {
	if h == nil {
		return nil
	}
	out := make([]model.Holder, 0, len(h.OwnershipList))
	for _, o := range h.OwnershipList {
		out = append(out, model.Holder{
			Organization: o.Organization,
			PctHeld:      o.PctHeld.Raw,
			Position:     o.Position.Raw,
			Value:        o.Value.Raw,
			ReportDate:   unixOrZero(o.ReportDate.Raw),
		})
	}
	return out
}

func unixOrZero(p *float64) time.Time {
	if p == nil {
		return time.Time{}
	}
	return time.Unix(int64(*p), 0).UTC()
}

// first 取第一个非空值
func first(ps ...*float64) *float64 {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}

func (y *YahooSource) summary(ctx context.Context, op, symbol string, modules []string, timeout time.Duration) (*model.Info, error) {
	q := url.Values{}
	q.Set("modules", strings.Join(modules, ","))
	body, err := y.get(ctx, op, "/v10/finance/quoteSummary/"+url.PathEscape(y.mapper.ToProvider(symbol)), q, timeout)
	if err != nil {
		return nil, err
	}
	var resp struct {
		QuoteSummary struct {
			Result []summaryResult `json:"result"`
			Error  *yahooError     `json:"error"`
		} `json:"quoteSummary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s decode: %v", ErrUpstream, op, err)
	}
	if resp.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("%s %s: %s: %w", op, symbol, resp.QuoteSummary.Error.Description, ErrNoData)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%s %s: %w", op, symbol, ErrNoData)
	}
	return resp.QuoteSummary.Result[0].toInfo(Normalize(symbol)), nil
}

// toInfo 上游模块映射到 Info，缺失模块保持字段为空
func (r *summaryResult) toInfo(symbol string) *model.Info {
	in := &model.Info{Symbol: symbol}

	if p := r.AssetProfile; p != nil {
		in.Sector = p.Sector
		in.Industry = p.Industry
		in.Country = p.Country
		in.Website = p.Website
		in.Summary = p.LongBusinessSummary
		in.Employees = p.FullTimeEmployees
	}
	if p := r.Price; p != nil {
		in.LongName = p.LongName
		in.ShortName = p.ShortName
		in.Currency = p.Currency
		in.Exchange = p.ExchangeName
		in.QuoteType = p.QuoteType
		in.RegularMarketPrice = p.RegularMarketPrice.Raw
		in.PreviousClose = p.RegularMarketPreviousClose.Raw
		in.MarketCap = p.MarketCap.Raw
	}
	if s := r.SummaryDetail; s != nil {
		in.PreviousClose = first(in.PreviousClose, s.PreviousClose.Raw)
		in.MarketCap = first(in.MarketCap, s.MarketCap.Raw)
		in.Beta = s.Beta.Raw
		in.TrailingPE = s.TrailingPE.Raw
		in.ForwardPE = s.ForwardPE.Raw
		in.PriceToSales = s.PriceToSales.Raw
		in.DividendRate = s.DividendRate.Raw
		in.DividendYield = s.DividendYield.Raw
		in.PayoutRatio = s.PayoutRatio.Raw
		in.FiftyTwoWeekHigh = s.FiftyTwoWeekHigh.Raw
		in.FiftyTwoWeekLow = s.FiftyTwoWeekLow.Raw
		in.FiftyDayAverage = s.FiftyDayAverage.Raw
		in.TwoHundredDayAvg = s.TwoHundredDayAvg.Raw
		in.AverageVolume = s.AverageVolume.Raw
	}
	if k := r.DefaultKeyStatistics; k != nil {
		in.EnterpriseValue = k.EnterpriseValue.Raw
		in.PEGRatio = k.PEGRatio.Raw
		in.PriceToBook = k.PriceToBook.Raw
		in.BookValue = k.BookValue.Raw
		in.TrailingEPS = k.TrailingEPS.Raw
		in.ForwardEPS = k.ForwardEPS.Raw
		in.EVToEBITDA = k.EVToEBITDA.Raw
		in.EVToRevenue = k.EVToRevenue.Raw
		in.SharesOutstanding = k.SharesOutstanding.Raw
		in.FloatShares = k.FloatShares.Raw
		in.SharesShort = k.SharesShort.Raw
		in.ShortRatio = k.ShortRatio.Raw
		in.ShortPercentOfFloat = k.ShortPercentOfFloat.Raw
		in.InsidersPct = k.HeldPercentInsiders.Raw
		in.InstitutionsPct = k.HeldPercentInst.Raw
		in.Beta = first(in.Beta, k.Beta.Raw)
	}
	if f := r.FinancialData; f != nil {
		in.RegularMarketPrice = first(in.RegularMarketPrice, f.CurrentPrice.Raw)
		in.TargetHighPrice = f.TargetHighPrice.Raw
		in.TargetLowPrice = f.TargetLowPrice.Raw
		in.TargetMeanPrice = f.TargetMeanPrice.Raw
		in.TargetMedianPrice = f.TargetMedianPrice.Raw
		in.RecommendationMean = f.RecommendationMean.Raw
		in.RecommendationKey = f.RecommendationKey
		in.AnalystCount = f.AnalystCount.Raw
		in.TotalCash = f.TotalCash.Raw
		in.TotalDebt = f.TotalDebt.Raw
		in.TotalRevenue = f.TotalRevenue.Raw
		in.EBITDA = f.EBITDA.Raw
		in.DebtToEquity = f.DebtToEquity.Raw
		in.CurrentRatio = f.CurrentRatio.Raw
		in.QuickRatio = f.QuickRatio.Raw
		in.ReturnOnAssets = f.ReturnOnAssets.Raw
		in.ReturnOnEquity = f.ReturnOnEquity.Raw
		in.RevenueGrowth = f.RevenueGrowth.Raw
		in.EarningsGrowth = f.EarningsGrowth.Raw
		in.GrossMargins = f.GrossMargins.Raw
		in.OperatingMargins = f.OperatingMargins.Raw
		in.ProfitMargins = f.ProfitMargins.Raw
		in.FreeCashflow = f.FreeCashflow.Raw
		in.OperatingCashflow = f.OperatingCashflow.Raw
	}
	if t := r.RecommendationTrend; t != nil {
		in.RecommendationTrend = t.Trend
	}
	if u := r.UpgradeDowngradeHistory; u != nil {
		for _, h := range u.History {
			in.GradeChanges = append(in.GradeChanges, model.GradeChange{
				Date:      time.Unix(h.EpochGradeDate, 0).UTC(),
				Firm:      h.Firm,
				ToGrade:   h.ToGrade,
				FromGrade: h.FromGrade,
				Action:    h.Action,
			})
		}
	}
	if e := r.EarningsHistory; e != nil {
		for _, h := range e.History {
			in.EarningsHistory = append(in.EarningsHistory, model.EarningsEvent{
				Quarter:         unixOrZero(h.Quarter.Raw),
				EPSActual:       h.EPSActual.Raw,
				EPSEstimate:     h.EPSEstimate.Raw,
				SurprisePercent: h.SurprisePercent.Raw,
			})
		}
	}
	if e := r.Earnings; e != nil {
		for _, q := range e.FinancialsChart.Quarterly {
			in.QuarterlyResults = append(in.QuarterlyResults, model.QuarterlyResult{
				Period:   q.Date,
				Revenue:  q.Revenue.Raw,
				Earnings: q.Earnings.Raw,
			})
		}
	}
	if c := r.CalendarEvents; c != nil {
		for _, d := range c.Earnings.EarningsDate {
			if d.Raw != nil {
				in.NextEarnings = append(in.NextEarnings, unixOrZero(d.Raw))
			}
		}
		in.EarningsEstimate = c.Earnings.EarningsAverage.Raw
		in.RevenueEstimate = c.Earnings.RevenueAverage.Raw
	}
	in.Institutions = r.InstitutionOwnership.holders()
	in.Funds = r.FundOwnership.holders()
	if m := r.MajorHoldersBreakdown; m != nil {
		in.InsidersPct = first(m.InsidersPercentHeld.Raw, in.InsidersPct)
		in.InstitutionsPct = first(m.InstitutionsPercentHeld.Raw, in.InstitutionsPct)
		in.InstitutionCount = m.InstitutionsCount.Raw
	}
	if t := r.InsiderTransactions; t != nil {
		for _, tx := range t.Transactions {
			in.InsiderTrades = append(in.InsiderTrades, model.InsiderTransaction{
				Name:     tx.FilerName,
				Relation: tx.FilerRelation,
				Text:     tx.TransactionText,
				Shares:   tx.Shares.Raw,
				Value:    tx.Value.Raw,
				Date:     unixOrZero(tx.StartDate.Raw),
			})
		}
	}
	return in
}

// Info 公司信息与财务属性
func (y *YahooSource) Info(ctx context.Context, symbol string) (*model.Info, error) {
	return y.summary(ctx, "info", symbol, infoModules, y.quoteTimeout)
}

// ---------- options ----------

type yahooContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Change            float64 `json:"change"`
	PercentChange     float64 `json:"percentChange"`
	Volume            float64 `json:"volume"`
	OpenInterest      float64 `json:"openInterest"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Expiration        int64   `json:"expiration"`
	LastTradeDate     int64   `json:"lastTradeDate"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	InTheMoney        bool    `json:"inTheMoney"`
}

func (c yahooContract) toModel(kind model.OptionKind) model.OptionContract {
	return model.OptionContract{
		ContractSymbol:    c.ContractSymbol,
		Kind:              kind,
		Strike:            c.Strike,
		Expiration:        time.Unix(c.Expiration, 0).UTC(),
		Bid:               c.Bid,
		Ask:               c.Ask,
		LastPrice:         c.LastPrice,
		Change:            c.Change,
		PercentChange:     c.PercentChange,
		Volume:            int64(c.Volume),
		OpenInterest:      int64(c.OpenInterest),
		ImpliedVolatility: c.ImpliedVolatility,
		InTheMoney:        c.InTheMoney,
		LastTradeDate:     time.Unix(c.LastTradeDate, 0).UTC(),
	}
}

type optionsResult struct {
	UnderlyingSymbol string  `json:"underlyingSymbol"`
	ExpirationDates  []int64 `json:"expirationDates"`
	Quote            struct {
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"quote"`
	Options []struct {
		ExpirationDate int64           `json:"expirationDate"`
		Calls          []yahooContract `json:"calls"`
		Puts           []yahooContract `json:"puts"`
	} `json:"options"`
}

func (y *YahooSource) options(ctx context.Context, symbol string, expiration time.Time) (*optionsResult, error) {
	q := url.Values{}
	if !expiration.IsZero() {
		q.Set("date", strconv.FormatInt(expiration.Unix(), 10))
	}
	body, err := y.get(ctx, "options", "/v7/finance/options/"+url.PathEscape(y.mapper.ToProvider(symbol)), q, y.optionsTimeout)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OptionChain struct {
			Result []optionsResult `json:"result"`
			Error  *yahooError     `json:"error"`
		} `json:"optionChain"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: options decode: %v", ErrUpstream, err)
	}
	if resp.OptionChain.Error != nil || len(resp.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("options %s: %w", symbol, ErrNoData)
	}
	return &resp.OptionChain.Result[0], nil
}

func unixDates(ts []int64) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		out = append(out, time.Unix(t, 0).UTC())
	}
	return out
}

// Expirations 期权到期日，没有期权的标的返回空列表
func (y *YahooSource) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	r, err := y.options(ctx, symbol, time.Time{})
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return []time.Time{}, nil
		}
		return nil, err
	}
	return unixDates(r.ExpirationDates), nil
}

// OptionChain 期权链
func (y *YahooSource) OptionChain(ctx context.Context, symbol string, expiration time.Time) (*model.OptionChain, error) {
	r, err := y.options(ctx, symbol, expiration)
	if err != nil {
		return nil, err
	}
	if len(r.ExpirationDates) == 0 || len(r.Options) == 0 {
		return nil, fmt.Errorf("option chain %s: %w", symbol, ErrNoData)
	}

	o := r.Options[0]
	chain := &model.OptionChain{
		Symbol:          Normalize(symbol),
		UnderlyingPrice: r.Quote.RegularMarketPrice,
		Expiration:      time.Unix(o.ExpirationDate, 0).UTC(),
		Expirations:     unixDates(r.ExpirationDates),
		Calls:           make([]model.OptionContract, 0, len(o.Calls)),
		Puts:            make([]model.OptionContract, 0, len(o.Puts)),
	}
	for _, c := range o.Calls {
		chain.Calls = append(chain.Calls, c.toModel(model.Call))
	}
	for _, p := range o.Puts {
		chain.Puts = append(chain.Puts, p.toModel(model.Put))
	}
	return chain, nil
}

// ---------- news ----------

// News 最新新闻
func (y *YahooSource) News(ctx context.Context, symbol string) ([]model.NewsItem, error) {
	q := url.Values{}
	q.Set("q", y.mapper.ToProvider(symbol))
	q.Set("quotesCount", "0")
	q.Set("newsCount", "20")
	body, err := y.get(ctx, "news", "/v1/finance/search", q, y.quoteTimeout)
	if err != nil {
		return nil, err
	}
	var resp struct {
		News []struct {
			Title               string   `json:"title"`
			Publisher           string   `json:"publisher"`
			Link                string   `json:"link"`
			ProviderPublishTime int64    `json:"providerPublishTime"`
			Type                string   `json:"type"`
			RelatedTickers      []string `json:"relatedTickers"`
		} `json:"news"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: news decode: %v", ErrUpstream, err)
	}
	out := make([]model.NewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		out = append(out, model.NewsItem{
			Title:     n.Title,
			Publisher: n.Publisher,
			Link:      n.Link,
			Published: time.Unix(n.ProviderPublishTime, 0).UTC(),
			Type:      n.Type,
			Related:   n.RelatedTickers,
		})
	}
	return out, nil
}
