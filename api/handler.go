package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketintel/backtest"
	"marketintel/cache"
	"marketintel/fetcher"
	"marketintel/internal/warmup"
	"marketintel/options"
	"marketintel/quant"
	"marketintel/trading"
)

// Handler API处理器
type Handler struct {
	cache    *cache.Cache
	src      fetcher.Source
	scan     fetcher.Source
	quant    *quant.Service
	options  *options.Service
	backtest *backtest.Engine
	warmup   *warmup.Status
	now      func() time.Time
}

// NewHandler 创建处理器
func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Cache == nil {
		d.Cache = cache.New()
	}
	if d.Scan == nil {
		d.Scan = d.Source
	}
	if d.Quant == nil {
		d.Quant = quant.NewService(d.Scan)
	}
	if d.Options == nil {
		d.Options = options.NewService(d.Source, d.Scan)
	}
	if d.Backtest == nil {
		d.Backtest = backtest.NewEngine(d.Scan)
	}
	if d.Warmup == nil {
		d.Warmup = &warmup.Status{}
	}
	return &Handler{
		cache:    d.Cache,
		src:      d.Source,
		scan:     d.Scan,
		quant:    d.Quant,
		options:  d.Options,
		backtest: d.Backtest,
		warmup:   d.Warmup,
		now:      d.Now,
	}
}

type loader func(ctx context.Context) (any, error)

// load 读缓存，未命中时调用 fn，结果经 Sanitize 后写回
//
// 上游调用与请求连接解耦：客户端断开不会中断本次拉取，结果照常入缓存。
func (h *Handler) load(c *gin.Context, key string, ttl time.Duration, fn loader) (json.RawMessage, error) {
	ctx := context.WithoutCancel(c.Request.Context())
	raw, hit, err := cache.GetOrLoad(ctx, h.cache, key, ttl, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(Sanitize(v))
	})
	if err != nil {
		return nil, err
	}
	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	return raw, nil
}

// serve 缓存读取 + 错误分类 + 输出
func (h *Handler) serve(c *gin.Context, op, symbol, key string, ttl time.Duration, fn loader) {
	raw, err := h.load(c, key, ttl, fn)
	if err != nil {
		fail(c, op, err, symbol)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// symbolParam 读取并规范化路径中的代码，为空时直接返回 400
func symbolParam(c *gin.Context) (string, bool) {
	sym := fetcher.Normalize(c.Param("symbol"))
	if sym == "" {
		badRequest(c, "symbol is required")
		return "", false
	}
	return sym, true
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "marketintel",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"cache": gin.H{
			"shared":       h.cache.Shared(),
			"localEntries": h.cache.Len(),
		},
	})
}

// WarmupStatus 预热进度
func (h *Handler) WarmupStatus(c *gin.Context) {
	respond(c, http.StatusOK, h.warmup.Snapshot())
}

// MarketStatus 美股交易时段
func (h *Handler) MarketStatus(c *gin.Context) {
	respond(c, http.StatusOK, trading.StatusAt(h.now()))
}

// warmupTasks 启动预热与定时刷新的接口：报价、指数、板块与日线图
func (h *Handler) warmupTasks(symbols []string) []warmup.Task {
	wrap := func(fn loader) func(ctx context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			v, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			return Sanitize(v), nil
		}
	}
	// 预热任务由工作池并发执行，单标的加载也走不节流的数据源
	b := *h
	b.src = h.scan
	tasks := []warmup.Task{
		{Name: "indices", Key: cache.Key("indices"), TTL: cache.TTLIndices, Realtime: true, Load: wrap(b.loadIndices)},
		{Name: "sectors", Key: cache.Key("sectors"), TTL: cache.TTLSectors, Load: wrap(b.loadSectors)},
	}
	daily := timeframes["1D"]
	for _, s := range symbols {
		sym := fetcher.Normalize(s)
		if sym == "" {
			continue
		}
		tasks = append(tasks,
			warmup.Task{Name: "realtime " + sym, Key: cache.Key("realtime", sym), TTL: cache.TTLRealtime, Realtime: true, Load: wrap(b.loadQuote(sym))},
			warmup.Task{Name: "chart " + sym, Key: cache.Key("chart", sym, "1D"), TTL: cache.ChartTTL(daily.Interval), Load: wrap(b.loadChart(sym, "1D"))},
		)
	}
	return tasks
}
