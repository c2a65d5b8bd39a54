package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"marketintel/backtest"
	"marketintel/cache"
	"marketintel/fetcher"
	"marketintel/internal/warmup"
	"marketintel/metrics"
	"marketintel/options"
	"marketintel/quant"
)

// Deps 处理器依赖，由进程启动时统一构造
type Deps struct {
	Cache    *cache.Cache
	Source   fetcher.Source
	// Scan 批量扇出使用的数据源，不经过单标的节流；为空时使用 Source
	Scan     fetcher.Source
	Quant    *quant.Service
	Options  *options.Service
	Backtest *backtest.Engine
	Warmup   *warmup.Status
	Now      func() time.Time
}

// Config HTTP 服务参数
type Config struct {
	Port      int
	RateLimit float64
	RateBurst int
}

// Server HTTP服务器
type Server struct {
	engine *gin.Engine
	server *http.Server
	h      *Handler
}

// NewServer 创建服务器
func NewServer(cfg Config, d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestIDMiddleware())
	engine.Use(recoveryMiddleware())
	engine.Use(corsMiddleware())
	engine.Use(loggerMiddleware())
	if cfg.RateLimit > 0 {
		engine.Use(rateLimitMiddleware(newIPLimiter(cfg.RateLimit, max(cfg.RateBurst, 1))))
	}

	s := &Server{
		engine: engine,
		h:      NewHandler(d),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

// Handler 暴露路由引擎(测试用)
func (s *Server) Handler() http.Handler { return s.engine }

// WarmupTasks 供预热器使用的热门接口
func (s *Server) WarmupTasks(symbols []string) []warmup.Task { return s.h.warmupTasks(symbols) }

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	h := s.h

	s.engine.GET("/health", h.Health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/warmup/status", h.WarmupStatus)

		// 行情，batch 必须先于 :symbol 注册
		api.GET("/realtime/batch", h.RealtimeBatch)
		api.GET("/realtime/:symbol", h.Realtime)
		api.GET("/historical/:symbol", h.Historical)
		api.GET("/chart/:symbol", h.Chart)

		market := api.Group("/market")
		market.GET("/status", h.MarketStatus)
		market.GET("/indices", h.Indices)
		market.GET("/sectors", h.Sectors)
		market.GET("/index-chart/:symbol", h.IndexChart)

		// 量化
		q := api.Group("/quant")
		q.POST("/backtest", h.Backtest)
		q.POST("/optimize", h.QuantOptimize)
		q.POST("/black-litterman", h.BlackLitterman)
		q.POST("/risk-metrics", h.RiskMetrics)
		q.POST("/correlation", h.Correlation)
		q.POST("/monte-carlo", h.QuantMonteCarlo)

		p := api.Group("/portfolio")
		p.POST("/analyze", h.PortfolioAnalyze)
		p.POST("/optimize-allocation", h.OptimizeAllocation)
		p.POST("/optimize", h.PortfolioOptimize)
		p.POST("/monte-carlo", h.PortfolioMonteCarlo)

		// 期权
		o := api.Group("/options")
		o.GET("/chain/:symbol", h.OptionChain)
		o.GET("/unusual-activity", h.UnusualActivity)
		o.GET("/put-call-ratio/:symbol", h.PutCallRatio)
		o.GET("/implied-volatility/:symbol", h.ImpliedVolatility)
		o.GET("/greeks/:symbol", h.Greeks)
		o.GET("/historical-iv/:symbol", h.HistoricalIV)
		o.GET("/screen", h.OptionsScreen)

		// 公司信息
		api.GET("/fundamentals/:symbol", h.Fundamentals)
		api.GET("/earnings/:symbol", h.Earnings)
		api.GET("/analysts/:symbol", h.Analysts)
		api.GET("/ownership/:symbol", h.Ownership)
		api.GET("/news/:symbol", h.News)
	}
}

// Start 启动服务器，阻塞到关闭
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("[API] 服务启动")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
