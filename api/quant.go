package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"marketintel/backtest"
	"marketintel/cache"
	"marketintel/quant"
)

// bind 解析 JSON 请求体，失败时直接返回 400
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// post 绑定请求体，以请求内容的哈希为缓存键执行 fn
func post[T any](h *Handler, c *gin.Context, family, op string, ttl time.Duration, fn func(ctx context.Context, req T) (any, error)) {
	var req T
	if !bind(c, &req) {
		return
	}
	h.serve(c, op, "", cache.HashKey(family, req), ttl, func(ctx context.Context) (any, error) {
		return fn(ctx, req)
	})
}

// Backtest 策略回测
func (h *Handler) Backtest(c *gin.Context) {
	post(h, c, "backtest", "backtest", cache.TTLBacktest, func(ctx context.Context, req backtest.Request) (any, error) {
		return h.backtest.Run(ctx, req)
	})
}

// QuantOptimize 随机组合有效前沿
func (h *Handler) QuantOptimize(c *gin.Context) {
	post(h, c, "quant-optimize", "portfolio optimization", cache.TTLQuant, func(ctx context.Context, req quant.OptimizeRequest) (any, error) {
		return h.quant.Optimize(ctx, req, quant.QuantRiskFree)
	})
}

// BlackLitterman 观点融合配置
func (h *Handler) BlackLitterman(c *gin.Context) {
	post(h, c, "black-litterman", "black-litterman", cache.TTLQuant, func(ctx context.Context, req quant.BlackLittermanRequest) (any, error) {
		return h.quant.BlackLitterman(ctx, req, quant.QuantRiskFree)
	})
}

// RiskMetrics 组合风险指标
func (h *Handler) RiskMetrics(c *gin.Context) {
	post(h, c, "risk-metrics", "risk metrics", cache.TTLQuant, func(ctx context.Context, req quant.RiskRequest) (any, error) {
		a, err := h.quant.Analyze(ctx, req, quant.QuantRiskFree)
		if err != nil {
			return nil, err
		}
		return a.RiskReport(), nil
	})
}

// Correlation 相关性、聚类与主成分
func (h *Handler) Correlation(c *gin.Context) {
	post(h, c, "correlation", "correlation analysis", cache.TTLQuant, func(ctx context.Context, req quant.RangeRequest) (any, error) {
		return h.quant.Correlation(ctx, req)
	})
}

// QuantMonteCarlo 蒙特卡洛模拟，默认独立正态
func (h *Handler) QuantMonteCarlo(c *gin.Context) {
	post(h, c, "quant-monte-carlo", "monte carlo simulation", cache.TTLQuant, func(ctx context.Context, req quant.MonteCarloRequest) (any, error) {
		return h.quant.MonteCarlo(ctx, req, "normal")
	})
}

// PortfolioAnalyze 组合分析
func (h *Handler) PortfolioAnalyze(c *gin.Context) {
	post(h, c, "portfolio-analyze", "portfolio analysis", cache.TTLQuant, func(ctx context.Context, req quant.RiskRequest) (any, error) {
		a, err := h.quant.Analyze(ctx, req, quant.PortfolioRiskFree)
		if err != nil {
			return nil, err
		}
		return a.PortfolioReport(), nil
	})
}

// OptimizeAllocation 持仓再平衡建议
func (h *Handler) OptimizeAllocation(c *gin.Context) {
	post(h, c, "optimize-allocation", "allocation optimization", cache.TTLQuant, func(ctx context.Context, req quant.AllocationRequest) (any, error) {
		return h.quant.OptimizeAllocation(ctx, req, quant.PortfolioRiskFree)
	})
}

// PortfolioOptimize 带权重约束的均值方差优化
func (h *Handler) PortfolioOptimize(c *gin.Context) {
	post(h, c, "portfolio-optimize", "portfolio optimization", cache.TTLQuant, func(ctx context.Context, req quant.OptimizeRequest) (any, error) {
		return h.quant.OptimizeConstrained(ctx, req, quant.PortfolioRiskFree)
	})
}

// PortfolioMonteCarlo 蒙特卡洛模拟，默认保留资产相关性
func (h *Handler) PortfolioMonteCarlo(c *gin.Context) {
	post(h, c, "portfolio-monte-carlo", "monte carlo simulation", cache.TTLQuant, func(ctx context.Context, req quant.MonteCarloRequest) (any, error) {
		return h.quant.MonteCarlo(ctx, req, "correlated")
	})
}
