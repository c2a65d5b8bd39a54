package cache

import (
	"runtime"

	"github.com/rs/zerolog/log"
)

// HeapUsage 当前堆内存占用(字节)
func HeapUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// RelieveMemory 堆内存超过 limit 时清空进程内缓存并触发 GC，limit 为 0 时不检查
func (c *Cache) RelieveMemory(limit uint64, usage func() uint64) bool {
	if limit == 0 {
		return false
	}
	if usage == nil {
		usage = HeapUsage
	}
	used := usage()
	if used <= limit {
		return false
	}
	n := c.Purge()
	runtime.GC()
	log.Warn().
		Uint64("heap_mb", used>>20).
		Uint64("limit_mb", limit>>20).
		Int("purged", n).
		Msg("[cache] 内存超限，已清空本地缓存")
	return true
}
