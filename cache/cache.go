// Package cache 两级缓存：优先共享后端(Redis)，失败时透明回退到进程内 map
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketintel/metrics"
)

// ErrMiss 后端未命中
var ErrMiss = errors.New("cache miss")

// Backend 共享缓存后端
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEX(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type entry struct {
	val       []byte
	expiresAt time.Time
}

// Cache 缓存层，Get/Set 从不向调用方返回后端错误
type Cache struct {
	shared Backend

	mu    sync.Mutex
	local map[string]entry
	now   func() time.Time
}

// Option 缓存选项
type Option func(*Cache)

// WithBackend 设置共享后端，nil 表示只用进程内缓存
func WithBackend(b Backend) Option {
	return func(c *Cache) { c.shared = b }
}

// WithClock 注入时钟(测试用)
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New 创建缓存
func New(opts ...Option) *Cache {
	c := &Cache{
		local: make(map[string]entry),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Shared 是否配置了共享后端
func (c *Cache) Shared() bool { return c.shared != nil }

// Get 读取并解码到 dst，命中返回 true
//
// 共享后端未命中即为未命中；共享后端出错(或未配置)时查进程内 map。
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if c.shared != nil {
		b, err := c.shared.Get(ctx, key)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, dst); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("[cache] 共享缓存值解码失败")
				metrics.CacheOps.WithLabelValues("shared", "error").Inc()
				return false
			}
			metrics.CacheOps.WithLabelValues("shared", "hit").Inc()
			return true
		case errors.Is(err, ErrMiss):
			metrics.CacheOps.WithLabelValues("shared", "miss").Inc()
			return false
		default:
			log.Debug().Err(err).Str("key", key).Msg("[cache] 共享缓存读取失败，回退本地")
			metrics.CacheOps.WithLabelValues("shared", "fallback").Inc()
		}
	}

	b, ok := c.getLocal(key)
	if !ok {
		metrics.CacheOps.WithLabelValues("local", "miss").Inc()
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[cache] 本地缓存值解码失败")
		metrics.CacheOps.WithLabelValues("local", "error").Inc()
		return false
	}
	metrics.CacheOps.WithLabelValues("local", "hit").Inc()
	return true
}

func (c *Cache) getLocal(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.local, key)
		metrics.CacheEntries.Set(float64(len(c.local)))
		return nil, false
	}
	return e.val, true
}

// Set 编码并写入；编码失败丢弃本次写入，共享后端失败时写进程内 map
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[cache] 编码失败，丢弃写入")
		metrics.CacheOps.WithLabelValues("encode", "error").Inc()
		return
	}

	if c.shared != nil {
		err := c.shared.SetEX(ctx, key, b, ttl)
		if err == nil {
			return
		}
		log.Debug().Err(err).Str("key", key).Msg("[cache] 共享缓存写入失败，写入本地")
		metrics.CacheOps.WithLabelValues("shared", "fallback").Inc()
	}

	c.mu.Lock()
	c.local[key] = entry{val: b, expiresAt: c.now().Add(ttl)}
	metrics.CacheEntries.Set(float64(len(c.local)))
	c.mu.Unlock()
}

// Sweep 清理进程内已过期条目，返回清理数量
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.local {
		if !now.Before(e.expiresAt) {
			delete(c.local, k)
			n++
		}
	}
	metrics.CacheEntries.Set(float64(len(c.local)))
	return n
}

// Purge 清空进程内缓存，返回清理数量
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.local)
	c.local = make(map[string]entry)
	metrics.CacheEntries.Set(0)
	return n
}

// Len 进程内条目数(含尚未清理的过期条目)
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// GetOrLoad 缓存命中直接返回，否则调用 load 并写回；load 的错误原样返回且不写缓存
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, bool, error) {
	var v T
	if c.Get(ctx, key, &v) {
		return v, true, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	c.Set(ctx, key, v, ttl)
	return v, false, nil
}
