package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend Redis 共享后端
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend 按地址创建 Redis 后端
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})}
}

// NewRedisBackendFromClient 使用已有客户端
func NewRedisBackendFromClient(c *redis.Client) *RedisBackend {
	return &RedisBackend{client: c}
}

// Ping 启动时连通性检查
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get 读取，不存在返回 ErrMiss
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

// SetEX 带过期时间写入
func (r *RedisBackend) SetEX(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

// Close 关闭连接
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
