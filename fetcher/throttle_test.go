package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newFakeThrottle(clk *fakeClock) *Throttle {
	return NewThrottle(100*time.Millisecond, 0, 200*time.Millisecond, 2,
		WithThrottleClock(clk.Now, clk.Sleep),
		WithThrottleRand(func() float64 { return 0.5 }),
	)
}

func TestThrottleWaitSpacing(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	th := newFakeThrottle(clk)

	require.NoError(t, th.Wait(context.Background()))
	assert.Empty(t, clk.sleeps, "first call never waits")

	require.NoError(t, th.Wait(context.Background()))
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clk.sleeps)

	clk.now = clk.now.Add(time.Second)
	require.NoError(t, th.Wait(context.Background()))
	assert.Len(t, clk.sleeps, 1, "enough time already passed")
}

func TestRetryBacksOffThenSucceeds(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	th := newFakeThrottle(clk)

	calls := 0
	v, err := Retry(context.Background(), th, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("%w: flaky", ErrUpstream)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clk.sleeps)
}

func TestRetryStopsOnNoData(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	th := newFakeThrottle(clk)

	calls := 0
	_, err := Retry(context.Background(), th, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("x: %w", ErrNoData)
	})
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	th := newFakeThrottle(clk)

	calls := 0
	_, err := Retry(context.Background(), th, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, th.Attempts(), calls)
}

func TestThrottleSerializesConcurrentCallers(t *testing.T) {
	th := NewThrottle(10*time.Millisecond, 0, 0, 1)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = th.Wait(context.Background())
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
