package fetcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// breakers 按上游主机划分的熔断器
type breakers struct {
	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

func newBreakers() *breakers {
	return &breakers{m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[host]; ok {
		return cb
	}
	st := gobreaker.Settings{
		Name:     host,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= 5 {
				return true
			}
			if c.Requests < 20 {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) > 0.5
		},
		// 空结果是正常业务结果，不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("[fetch] 熔断状态变化")
		},
	}
	cb := gobreaker.NewCircuitBreaker(st)
	b.m[host] = cb
	return cb
}

// do 经熔断器执行请求，熔断打开时返回 ErrUpstream
func (b *breakers) do(host string, fn func() ([]byte, error)) ([]byte, error) {
	out, err := b.get(host).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit %v", ErrUpstream, host, err)
		}
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}
