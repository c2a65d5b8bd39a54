package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// YAMLConfig YAML配置文件结构
type YAMLConfig struct {
	Server struct {
		Port            int     `yaml:"port"`
		RateLimit       float64 `yaml:"rate_limit"`
		RateBurst       int     `yaml:"rate_burst"`
		ShutdownTimeout int     `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Provider struct {
		BaseURL        string `yaml:"base_url"`
		SymbolMapFile  string `yaml:"symbol_map_file"`
		QuoteTimeout   int    `yaml:"quote_timeout"`
		HistoryTimeout int    `yaml:"history_timeout"`
		OptionsTimeout int    `yaml:"options_timeout"`
	} `yaml:"provider"`

	Throttle struct {
		BaseDelayMs int `yaml:"base_delay_ms"`
		JitterMinMs int `yaml:"jitter_min_ms"`
		JitterMaxMs int `yaml:"jitter_max_ms"`
		Attempts    int `yaml:"attempts"`
	} `yaml:"throttle"`

	Cache struct {
		SweepInterval int `yaml:"sweep_interval"`
		MemoryLimitMB int `yaml:"memory_limit_mb"`
	} `yaml:"cache"`

	Warmup struct {
		Enabled  *bool    `yaml:"enabled"`
		Schedule string   `yaml:"schedule"`
		Symbols  []string `yaml:"symbols"`
	} `yaml:"warmup"`
}

// Config 配置
type Config struct {
	// HTTP 服务端口
	Port int

	// 每个客户端 IP 的请求速率(次/秒)与突发
	RateLimit float64
	RateBurst int

	// 优雅关闭超时
	ShutdownTimeout time.Duration

	// Redis 地址，为空时只使用进程内缓存
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 日志级别 (debug/info/warn/error)
	LogLevel string

	// 控制台彩色输出
	LogPretty bool

	// 行情源地址
	ProviderBaseURL string

	// 代码映射文件，为空时使用内置映射
	SymbolMapFile string

	// 上游调用超时
	QuoteTimeout   time.Duration
	HistoryTimeout time.Duration
	OptionsTimeout time.Duration

	// 单标的重试路径的节流参数
	ThrottleBase      time.Duration
	ThrottleJitterMin time.Duration
	ThrottleJitterMax time.Duration
	RetryAttempts     int

	// 过期缓存清理间隔
	SweepInterval time.Duration

	// 进程堆内存上限(MB)，超过后清空进程内缓存，0 表示不限制
	MemoryLimitMB int

	// 预热
	WarmupEnabled  bool
	WarmupSchedule string
	WarmupSymbols  []string
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Port:              8000,
	RateLimit:         20,
	RateBurst:         40,
	ShutdownTimeout:   5 * time.Second,
	RedisAddr:         "localhost:6379",
	LogLevel:          "info",
	LogPretty:         false,
	ProviderBaseURL:   "https://query1.finance.yahoo.com",
	QuoteTimeout:      10 * time.Second,
	HistoryTimeout:    15 * time.Second,
	OptionsTimeout:    30 * time.Second,
	ThrottleBase:      500 * time.Millisecond,
	ThrottleJitterMin: 100 * time.Millisecond,
	ThrottleJitterMax: 400 * time.Millisecond,
	RetryAttempts:     2,
	SweepInterval:     5 * time.Minute,
	MemoryLimitMB:     512,
	WarmupEnabled:     true,
	WarmupSchedule:    "0 */5 * * * *",
	WarmupSymbols: []string{
		"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA",
	},
}

// LoadFromFile 从YAML文件加载配置，未设置的字段保留默认值
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig
	cfg.WarmupSymbols = append([]string(nil), DefaultConfig.WarmupSymbols...)

	// 服务配置
	if y.Server.Port > 0 {
		cfg.Port = y.Server.Port
	}
	if y.Server.RateLimit > 0 {
		cfg.RateLimit = y.Server.RateLimit
	}
	if y.Server.RateBurst > 0 {
		cfg.RateBurst = y.Server.RateBurst
	}
	if y.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = time.Duration(y.Server.ShutdownTimeout) * time.Second
	}

	// Redis
	if y.Redis.Addr != "" {
		cfg.RedisAddr = y.Redis.Addr
	}
	if y.Redis.Password != "" {
		cfg.RedisPassword = y.Redis.Password
	}
	if y.Redis.DB > 0 {
		cfg.RedisDB = y.Redis.DB
	}

	// 日志
	if y.Log.Level != "" {
		cfg.LogLevel = y.Log.Level
	}
	cfg.LogPretty = y.Log.Pretty

	// 行情源
	if y.Provider.BaseURL != "" {
		cfg.ProviderBaseURL = strings.TrimRight(y.Provider.BaseURL, "/")
	}
	if y.Provider.SymbolMapFile != "" {
		cfg.SymbolMapFile = y.Provider.SymbolMapFile
	}
	if y.Provider.QuoteTimeout > 0 {
		cfg.QuoteTimeout = time.Duration(y.Provider.QuoteTimeout) * time.Second
	}
	if y.Provider.HistoryTimeout > 0 {
		cfg.HistoryTimeout = time.Duration(y.Provider.HistoryTimeout) * time.Second
	}
	if y.Provider.OptionsTimeout > 0 {
		cfg.OptionsTimeout = time.Duration(y.Provider.OptionsTimeout) * time.Second
	}

	// 节流
	if y.Throttle.BaseDelayMs > 0 {
		cfg.ThrottleBase = time.Duration(y.Throttle.BaseDelayMs) * time.Millisecond
	}
	if y.Throttle.JitterMinMs > 0 {
		cfg.ThrottleJitterMin = time.Duration(y.Throttle.JitterMinMs) * time.Millisecond
	}
	if y.Throttle.JitterMaxMs > 0 {
		cfg.ThrottleJitterMax = time.Duration(y.Throttle.JitterMaxMs) * time.Millisecond
	}
	if y.Throttle.Attempts > 0 {
		cfg.RetryAttempts = y.Throttle.Attempts
	}

	// 缓存
	if y.Cache.SweepInterval > 0 {
		cfg.SweepInterval = time.Duration(y.Cache.SweepInterval) * time.Second
	}
	if y.Cache.MemoryLimitMB > 0 {
		cfg.MemoryLimitMB = y.Cache.MemoryLimitMB
	}

	// 预热
	if y.Warmup.Enabled != nil {
		cfg.WarmupEnabled = *y.Warmup.Enabled
	}
	if y.Warmup.Schedule != "" {
		cfg.WarmupSchedule = y.Warmup.Schedule
	}
	if len(y.Warmup.Symbols) > 0 {
		cfg.WarmupSymbols = y.Warmup.Symbols
	}

	if cfg.ThrottleJitterMax < cfg.ThrottleJitterMin {
		return nil, fmt.Errorf("throttle jitter_max_ms (%v) < jitter_min_ms (%v)", cfg.ThrottleJitterMax, cfg.ThrottleJitterMin)
	}

	return &cfg, nil
}

// GetConfig 获取配置 (优先级: 环境变量 > 配置文件 > 默认值)
func GetConfig(configPath string) *Config {
	cfg := DefaultConfig
	cfg.WarmupSymbols = append([]string(nil), DefaultConfig.WarmupSymbols...)

	if configPath != "" {
		if c, err := LoadFromFile(configPath); err == nil {
			cfg = *c
		} else {
			log.Warn().Err(err).Str("path", configPath).Msg("[config] 无法加载配置文件，使用默认配置")
		}
	}

	applyEnv(&cfg)
	return &cfg
}

// applyEnv 环境变量覆盖
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Port = p
		} else {
			log.Warn().Str("PORT", v).Msg("[config] 端口无效，忽略")
		}
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil && db >= 0 {
			cfg.RedisDB = db
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SYMBOL_MAP_FILE"); v != "" {
		cfg.SymbolMapFile = v
	}
}
