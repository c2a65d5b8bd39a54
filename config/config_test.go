package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadFromFileMergesDefaults(t *testing.T) {
	p := writeYAML(t, `
server:
  port: 9100
  rate_limit: 5
redis:
  addr: redis:6379
  db: 2
provider:
  base_url: http://localhost:8080/
  history_timeout: 20
throttle:
  base_delay_ms: 250
cache:
  sweep_interval: 60
warmup:
  enabled: false
  symbols: [IWM]
`)
	cfg, err := LoadFromFile(p)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 40, cfg.RateBurst)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "http://localhost:8080", cfg.ProviderBaseURL)
	assert.Equal(t, 20*time.Second, cfg.HistoryTimeout)
	assert.Equal(t, 10*time.Second, cfg.QuoteTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleBase)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.WarmupEnabled)
	assert.Equal(t, []string{"IWM"}, cfg.WarmupSymbols)
	assert.Equal(t, DefaultConfig.WarmupSchedule, cfg.WarmupSchedule)
}

func TestLoadFromFileRejectsBadJitter(t *testing.T) {
	p := writeYAML(t, "throttle:\n  jitter_min_ms: 500\n  jitter_max_ms: 200\n")
	_, err := LoadFromFile(p)
	assert.Error(t, err)
}

func TestGetConfigEnvOverridesFile(t *testing.T) {
	p := writeYAML(t, "server:\n  port: 9100\nlog:\n  level: debug\n")
	t.Setenv("PORT", "9200")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("SYMBOL_MAP_FILE", "/etc/marketintel/map.json")

	cfg := GetConfig(p)
	assert.Equal(t, 9200, cfg.Port)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/etc/marketintel/map.json", cfg.SymbolMapFile)
}

func TestGetConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cfg := GetConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, DefaultConfig.Port, cfg.Port)
	assert.Equal(t, DefaultConfig.WarmupSymbols, cfg.WarmupSymbols)

	// 返回值是副本，修改不影响默认配置
	cfg.WarmupSymbols[0] = "XXX"
	assert.NotEqual(t, "XXX", DefaultConfig.WarmupSymbols[0])
}
