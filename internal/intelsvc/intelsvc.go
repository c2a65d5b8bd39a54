package intelsvc

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel"
	"marketintel/api"
	"marketintel/backtest"
	"marketintel/cache"
	"marketintel/config"
	"marketintel/fetcher"
	"marketintel/internal/warmup"
	"marketintel/options"
	"marketintel/quant"
)

// Run 启动 HTTP 服务，阻塞到收到 SIGINT/SIGTERM
func Run(configPath string) error {
	cfg := config.GetConfig(configPath)
	SetupLogging(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("port", cfg.Port).Str("provider", cfg.ProviderBaseURL).Msg("=== 行情与量化分析服务 (marketintel) ===")

	c, closeCache := openCache(ctx, cfg)
	defer closeCache()

	src, scan := NewSource(cfg)

	var server *api.Server
	runner := warmup.NewRunner(c, func() []warmup.Task {
		return server.WarmupTasks(cfg.WarmupSymbols)
	}, warmup.Options{
		Schedule:      cfg.WarmupSchedule,
		SweepInterval: cfg.SweepInterval,
		MemoryLimit:   uint64(cfg.MemoryLimitMB) << 20,
	})

	server = api.NewServer(api.Config{
		Port:      cfg.Port,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, api.Deps{
		Cache:    c,
		Source:   src,
		Scan:     scan,
		Quant:    quant.NewService(scan),
		Options:  options.NewService(src, scan),
		Backtest: backtest.NewEngine(scan),
		Warmup:   runner.Status(),
	})

	if cfg.WarmupEnabled {
		if err := runner.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("[warmup] 预热调度启动失败，仅按需加载")
		} else {
			defer runner.Stop()
		}
	} else {
		log.Info().Msg("[warmup] 预热已关闭")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("[API] HTTP服务启动失败")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	log.Info().Msg("服务已关闭")
	return nil
}

// openCache 连接 Redis，失败时退回进程内缓存，进程不会因此启动失败
func openCache(ctx context.Context, cfg *config.Config) (*cache.Cache, func()) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("[cache] 未配置 Redis，使用进程内缓存")
		return cache.New(), func() {}
	}
	rb := cache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rb.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("[cache] Redis 不可用，使用进程内缓存")
		_ = rb.Close()
		return cache.New(), func() {}
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("[cache] Redis 已连接")
	return cache.New(cache.WithBackend(rb)), func() { _ = rb.Close() }
}

// NewSource 构造行情源：src 供单标的接口使用(节流+重试)，scan 供批量扇出使用
func NewSource(cfg *config.Config) (src, scan fetcher.Source) {
	mapper := fetcher.LoadSymbolMapper(cfg.SymbolMapFile, marketintel.SymbolMapJSON)
	yahoo := fetcher.NewYahooSource(fetcher.YahooConfig{
		BaseURL:        cfg.ProviderBaseURL,
		QuoteTimeout:   cfg.QuoteTimeout,
		HistoryTimeout: cfg.HistoryTimeout,
		OptionsTimeout: cfg.OptionsTimeout,
	}, mapper)
	return splitSources(yahoo, cfg)
}

// splitSources 节流只作用于单标的路径；批量路径若共用全局节流会被串行化，排队的请求会超时
func splitSources(raw fetcher.Source, cfg *config.Config) (src, scan fetcher.Source) {
	throttle := fetcher.NewThrottle(cfg.ThrottleBase, cfg.ThrottleJitterMin, cfg.ThrottleJitterMax, cfg.RetryAttempts)
	return fetcher.NewRetrying(raw, throttle), raw
}
