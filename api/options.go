package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketintel/cache"
	"marketintel/model"
	"marketintel/options"
)

const (
	defaultUnusualLimit = 50
	maxScanLimit        = 500
)

// expiryParam 解析 expiration 参数(YYYY-MM-DD 或 unix 秒)，缺省为零值
func expiryParam(c *gin.Context) (time.Time, string, bool) {
	raw := strings.TrimSpace(c.Query("expiration"))
	if raw == "" {
		return time.Time{}, "nearest", true
	}
	exp := options.ParseExpiry(raw)
	if exp.IsZero() {
		badRequest(c, "invalid expiration: "+raw)
		return time.Time{}, "", false
	}
	return exp, exp.Format("2006-01-02"), true
}

// OptionChain 期权链
func (h *Handler) OptionChain(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	exp, label, ok := expiryParam(c)
	if !ok {
		return
	}
	h.serve(c, "options chain", sym, cache.Key("options-chain", sym, label), cache.TTLOptions, func(ctx context.Context) (any, error) {
		return h.options.Chain(ctx, sym, exp)
	})
}

// Greeks 期权希腊值
func (h *Handler) Greeks(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	exp, label, ok := expiryParam(c)
	if !ok {
		return
	}
	h.serve(c, "options greeks", sym, cache.Key("options-greeks", sym, label), cache.TTLOptions, func(ctx context.Context) (any, error) {
		return h.options.Greeks(ctx, sym, exp)
	})
}

// PutCallRatio 认沽认购比
func (h *Handler) PutCallRatio(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, "put/call ratio", sym, cache.Key("options-pcr", sym), cache.TTLOptions, func(ctx context.Context) (any, error) {
		return h.options.PutCallRatio(ctx, sym)
	})
}

// ImpliedVolatility 隐含波动率期限结构与微笑
func (h *Handler) ImpliedVolatility(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, "implied volatility", sym, cache.Key("options-iv", sym), cache.TTLOptions, func(ctx context.Context) (any, error) {
		return h.options.Surface(ctx, sym)
	})
}

// HistoricalIV 基于现有到期日近似的 IV rank/percentile
func (h *Handler) HistoricalIV(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, "historical IV", sym, cache.Key("options-hiv", sym), cache.TTLHistoricalIV, func(ctx context.Context) (any, error) {
		return h.options.HistoricalIV(ctx, sym)
	})
}

// scanSymbols 扫描类接口的代码列表，空列表使用默认观察池
func scanSymbols(c *gin.Context) ([]string, bool) {
	symbols := splitSymbols(c.Query("symbols"))
	if len(symbols) > maxBatchSymbols {
		badRequest(c, fmt.Sprintf("at most %d symbols per request", maxBatchSymbols))
		return nil, false
	}
	return symbols, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, fmt.Sprintf("invalid %s: %s", name, raw))
		return 0, false
	}
	return n, true
}

func floatQuery(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s: %s", name, raw))
		return 0, false
	}
	return f, true
}

// UnusualActivity 异常成交扫描
func (h *Handler) UnusualActivity(c *gin.Context) {
	symbols, ok := scanSymbols(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultUnusualLimit)
	if !ok {
		return
	}
	limit = min(limit, maxScanLimit)
	key := cache.Key("options-unusual", strings.Join(symbols, ","), strconv.Itoa(limit))
	h.serve(c, "unusual activity scan", "", key, cache.TTLOptionsScan, func(ctx context.Context) (any, error) {
		return h.options.UnusualActivity(ctx, symbols, limit), nil
	})
}

// screenCriteria 从查询参数构造筛选条件
func screenCriteria(c *gin.Context) (options.Criteria, bool) {
	var cr options.Criteria
	switch k := model.OptionKind(strings.ToLower(c.Query("type"))); k {
	case "", model.Call, model.Put:
		cr.Kind = k
	default:
		badRequest(c, "invalid type: "+string(k))
		return cr, false
	}
	switch m := model.Moneyness(strings.ToUpper(c.Query("moneyness"))); m {
	case "", model.ITM, model.ATM, model.OTM:
		cr.Moneyness = m
	default:
		badRequest(c, "invalid moneyness: "+string(m))
		return cr, false
	}

	ints := []struct {
		name string
		dst  *int
	}{{"maxDaysToExpiry", &cr.MaxDays}, {"limit", &cr.Limit}}
	for _, q := range ints {
		n, ok := intQuery(c, q.name, 0)
		if !ok {
			return cr, false
		}
		*q.dst = n
	}
	for _, q := range []struct {
		name string
		dst  *int64
	}{{"minVolume", &cr.MinVolume}, {"minOpenInterest", &cr.MinOpenInterest}} {
		n, ok := intQuery(c, q.name, 0)
		if !ok {
			return cr, false
		}
		*q.dst = int64(n)
	}
	for _, q := range []struct {
		name string
		dst  *float64
	}{{"minIV", &cr.MinIV}, {"maxIV", &cr.MaxIV}, {"minDelta", &cr.MinDelta}, {"maxDelta", &cr.MaxDelta}} {
		f, ok := floatQuery(c, q.name)
		if !ok {
			return cr, false
		}
		*q.dst = f
	}
	if cr.Limit == 0 || cr.Limit > maxScanLimit {
		cr.Limit = maxScanLimit
	}
	return cr, true
}

// OptionsScreen 期权筛选
func (h *Handler) OptionsScreen(c *gin.Context) {
	symbols, ok := scanSymbols(c)
	if !ok {
		return
	}
	cr, ok := screenCriteria(c)
	if !ok {
		return
	}
	key := cache.HashKey("options-screen", struct {
		Symbols  []string         `json:"symbols"`
		Criteria options.Criteria `json:"criteria"`
	}{symbols, cr})
	h.serve(c, "options screen", "", key, cache.TTLOptionsScan, func(ctx context.Context) (any, error) {
		return h.options.Screen(ctx, symbols, cr), nil
	})
}
