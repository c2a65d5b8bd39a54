package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestSMAPointCount(t *testing.T) {
	for _, n := range []int{0, 5, 19, 20, 21, 100} {
		v := series(n, func(i int) float64 { return float64(i) })
		pts := SMA(v, 20).Points()
		want := 0
		if n >= 20 {
			want = n - 20 + 1
		}
		assert.Len(t, pts, want, "n=%d", n)
	}

	sma := SMA([]float64{1, 2, 3, 4, 5}, 3)
	_, ok := sma.At(1)
	assert.False(t, ok)
	v, ok := sma.At(2)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
	v, _ = sma.Last()
	assert.Equal(t, 4.0, v)
}

func TestEMASeededWithFirstValue(t *testing.T) {
	e := EMA([]float64{10, 20, 30}, 3)
	assert.Equal(t, 10.0, e[0])
	assert.InDelta(t, 15.0, e[1], 1e-12)
	assert.InDelta(t, 22.5, e[2], 1e-12)
}

func TestRSIMonotonicAndBounds(t *testing.T) {
	up := series(30, func(i int) float64 { return 100 + float64(i) })
	r := RSI(up, 14)
	assert.Len(t, r.Points(), 30-14)
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 100.0, last)

	flat := series(20, func(int) float64 { return 5 })
	v, _ := RSI(flat, 14).Last()
	assert.Equal(t, 50.0, v)

	down := series(20, func(i int) float64 { return 100 - float64(i) })
	v, _ = RSI(down, 14).Last()
	assert.Equal(t, 0.0, v)

	wave := series(200, func(i int) float64 { return 100 + 10*math.Sin(float64(i)/3) + float64(i%7) })
	for _, p := range RSI(wave, 14).Points() {
		assert.GreaterOrEqual(t, p.Value, 0.0)
		assert.LessOrEqual(t, p.Value, 100.0)
	}

	assert.Empty(t, RSI(up[:14], 14).Points())
}

func TestMACDHistogram(t *testing.T) {
	v := series(60, func(i int) float64 { return 50 + math.Sin(float64(i)/5)*3 })
	m := MACD(v, 12, 26, 9)
	for i := range v {
		assert.InDelta(t, m.MACD[i]-m.Signal[i], m.Histogram[i], 1e-12)
	}
	assert.Equal(t, 0.0, m.MACD[0])
}

func TestBollingerUsesSampleStd(t *testing.T) {
	v := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	b := Bollinger(v, 8, 2)
	mid, ok := b.Middle.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, mid)

	// sample std of the window is sqrt(32/7)
	sd := math.Sqrt(32.0 / 7.0)
	up, _ := b.Upper.Last()
	lo, _ := b.Lower.Last()
	assert.InDelta(t, 5+2*sd, up, 1e-12)
	assert.InDelta(t, 5-2*sd, lo, 1e-12)

	assert.Empty(t, Bollinger(v[:3], 20, 2).Middle.Points())
}

func TestRollingStdWindows(t *testing.T) {
	sd := RollingStd([]float64{1, 2, 3, 5}, 3)
	_, ok := sd.At(1)
	assert.False(t, ok)
	v, ok := sd.At(2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-12)
	v, _ = sd.At(3)
	assert.InDelta(t, math.Sqrt(7.0/3.0), v, 1e-12)

	assert.Empty(t, RollingStd([]float64{1, 2, 3}, 1).Points())
}
