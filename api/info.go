package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"marketintel/cache"
	"marketintel/model"
)

// infoView 基于公司属性的单一视图接口
func (h *Handler) infoView(c *gin.Context, family, op string, view func(*model.Info) any) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, op, sym, cache.Key(family, sym), cache.TTLFundamentals, func(ctx context.Context) (any, error) {
		in, err := h.src.Info(ctx, sym)
		if err != nil {
			return nil, err
		}
		return view(in), nil
	})
}

// Fundamentals 基本面
func (h *Handler) Fundamentals(c *gin.Context) {
	h.infoView(c, "fundamentals", "fundamentals", func(in *model.Info) any { return in.Fundamentals() })
}

// Earnings 财报
func (h *Handler) Earnings(c *gin.Context) {
	h.infoView(c, "earnings", "earnings", func(in *model.Info) any { return in.Earnings() })
}

// Analysts 分析师评级
func (h *Handler) Analysts(c *gin.Context) {
	h.infoView(c, "analysts", "analyst data", func(in *model.Info) any { return in.Analysts() })
}

// Ownership 持股结构
func (h *Handler) Ownership(c *gin.Context) {
	h.infoView(c, "ownership", "ownership data", func(in *model.Info) any { return in.Ownership() })
}

// News 相关新闻
func (h *Handler) News(c *gin.Context) {
	sym, ok := symbolParam(c)
	if !ok {
		return
	}
	h.serve(c, "news", sym, cache.Key("news", sym), cache.TTLNews, func(ctx context.Context) (any, error) {
		items, err := h.src.News(ctx, sym)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []model.NewsItem{}
		}
		return gin.H{"symbol": sym, "count": len(items), "news": items}, nil
	})
}
