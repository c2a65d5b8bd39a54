package fetcher

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Throttle 单标的重试路径的全局节流器
//
// 记录上一次外部调用时间，两次调用之间至少间隔 base + U(jitterMin, jitterMax)。
// 读取/休眠/更新在同一把锁内完成，两个并发调用方不会同时判定无需等待。
type Throttle struct {
	mu   sync.Mutex
	last time.Time

	base      time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	attempts  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// ThrottleOption 节流器选项
type ThrottleOption func(*Throttle)

// WithThrottleClock 注入时钟与休眠函数(测试用)
func WithThrottleClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) ThrottleOption {
	return func(t *Throttle) {
		t.now = now
		t.sleep = sleep
	}
}

// WithThrottleRand 注入 [0,1) 随机源(测试用)
func WithThrottleRand(rnd func() float64) ThrottleOption {
	return func(t *Throttle) { t.rnd = rnd }
}

// NewThrottle 创建节流器，attempts<=0 时取 2
func NewThrottle(base, jitterMin, jitterMax time.Duration, attempts int, opts ...ThrottleOption) *Throttle {
	if attempts <= 0 {
		attempts = 2
	}
	if jitterMax < jitterMin {
		jitterMax = jitterMin
	}
	t := &Throttle{
		base:      base,
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		attempts:  attempts,
		now:       time.Now,
		sleep:     sleepCtx,
		rnd:       rand.Float64,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Throttle) jitter() time.Duration {
	span := t.jitterMax - t.jitterMin
	return t.jitterMin + time.Duration(t.rnd()*float64(span))
}

// Wait 等待到允许发起下一次外部调用
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		need := t.base + t.jitter()
		if elapsed := t.now().Sub(t.last); elapsed < need {
			if err := t.sleep(ctx, need-elapsed); err != nil {
				return err
			}
		}
	}
	t.last = t.now()
	return nil
}

// Attempts 最大尝试次数
func (t *Throttle) Attempts() int { return t.attempts }

// backoff 第 n 次失败后的退避: base·2^n + jitter
func (t *Throttle) backoff(n int) time.Duration {
	return t.base*time.Duration(1<<n) + t.jitter()
}

// Retry 经节流器调用 fn，失败时指数退避重试；空结果不重试
func Retry[T any](ctx context.Context, t *Throttle, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < t.attempts; i++ {
		if err := t.Wait(ctx); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrNoData) || ctx.Err() != nil {
			break
		}
		if i < t.attempts-1 {
			d := t.backoff(i)
			log.Debug().Err(err).Str("op", op).Int("attempt", i+1).Dur("backoff", d).Msg("[fetch] 重试")
			if err := t.sleep(ctx, d); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}
