package cache

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// 各类数据的缓存时长
const (
	TTLIntradayChart = 30 * time.Second
	TTLRealtime      = 60 * time.Second
	TTLIndices       = 60 * time.Second
	TTLHourlyChart   = 120 * time.Second
	TTLDailyChart    = 300 * time.Second
	TTLHistorical    = 300 * time.Second
	TTLOptions       = 300 * time.Second
	TTLOptionsScan   = 600 * time.Second
	TTLNews          = 900 * time.Second
	TTLQuant         = 1800 * time.Second
	TTLBacktest      = 3600 * time.Second
	TTLFundamentals  = 3600 * time.Second
	TTLHistoricalIV  = 3600 * time.Second
	TTLSectors       = 21600 * time.Second
)

// ChartTTL 按K线周期选择缓存时长
func ChartTTL(interval string) time.Duration {
	switch interval {
	case "1m", "2m", "5m", "15m", "30m":
		return TTLIntradayChart
	case "60m", "90m", "1h":
		return TTLHourlyChart
	default:
		return TTLDailyChart
	}
}

// Key 拼接缓存键 family:PART1:PART2
func Key(family string, parts ...string) string {
	if len(parts) == 0 {
		return family
	}
	return family + ":" + strings.Join(parts, ":")
}

// HashKey 以请求体规范 JSON 的 xxhash 作为键
func HashKey(family string, req any) string {
	b, err := json.Marshal(req)
	if err != nil {
		return family + ":invalid"
	}
	var sum [8]byte
	h := xxhash.Sum64(b)
	for i := 0; i < 8; i++ {
		sum[i] = byte(h >> (56 - 8*i))
	}
	return family + ":" + hex.EncodeToString(sum[:])
}
