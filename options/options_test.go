package options

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/fetcher"
	"marketintel/model"
)

func TestATMCallDelta(t *testing.T) {
	for _, sigma := range []float64{0.2, 0.3, 0.5, 0.8} {
		for _, days := range []float64{7, 30, 90, 365} {
			g := Greeks(model.Call, 100, 100, sigma, days/365, RiskFreeRate)
			assert.Greater(t, g.Delta, 0.4, "sigma=%v days=%v", sigma, days)
			assert.Less(t, g.Delta, 0.7, "sigma=%v days=%v", sigma, days)
		}
	}
}

func TestGreeksKnownValues(t *testing.T) {
	// S=K=100, sigma=0.2, T=1, r=0.05: d1=0.35
	g := Greeks(model.Call, 100, 100, 0.2, 1, 0.05)
	assert.InDelta(t, 0.6368, g.Delta, 1e-4)
	assert.InDelta(t, 0.018762, g.Gamma, 1e-5)
	assert.InDelta(t, 0.37524, g.Vega, 1e-4)
	assert.InDelta(t, -6.414/365, g.Theta, 1e-4)

	p := Greeks(model.Put, 100, 100, 0.2, 1, 0.05)
	assert.InDelta(t, g.Delta-1, p.Delta, 1e-12)
	assert.InDelta(t, g.Gamma, p.Gamma, 1e-12)
	assert.InDelta(t, g.Vega, p.Vega, 1e-12)
}

func TestGreeksFallbacks(t *testing.T) {
	g := Greeks(model.Call, 100, 100, 0, 0.1, RiskFreeRate)
	assert.Equal(t, model.Greeks{Delta: 0.5, Gamma: 0.001, Theta: -0.05, Vega: 0.01}, g)

	p := Greeks(model.Put, 100, 100, 0.3, 0, RiskFreeRate)
	assert.Equal(t, -0.5, p.Delta)

	g = Greeks(model.Call, math.NaN(), 100, 0.3, 0.1, RiskFreeRate)
	assert.Equal(t, 0.5, g.Delta)

	// deep OTM: gamma and vega hit their floors
	g = Greeks(model.Call, 100, 1000, 0.2, 0.02, RiskFreeRate)
	assert.Equal(t, 0.0001, g.Gamma)
	assert.Equal(t, 0.001, g.Vega)
}

func TestTimeToExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 10.0/365, TimeToExpiry(now.AddDate(0, 0, 10), now), 1e-12)
	assert.InDelta(t, 1.0/365, TimeToExpiry(now.Add(time.Hour), now), 1e-12)
	assert.InDelta(t, 1.0/365, TimeToExpiry(now.AddDate(0, 0, -3), now), 1e-12)
	assert.InDelta(t, 30.0/365, TimeToExpiry(time.Time{}, now), 1e-12)

	assert.True(t, ParseExpiry("not a date").IsZero())
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), ParseExpiry("2025-03-21"))
	assert.Equal(t, time.Unix(1742515200, 0).UTC(), ParseExpiry("1742515200"))
	assert.True(t, ParseExpiry("99999999999999999999").IsZero())
	assert.True(t, ParseExpiry("-1742515200").IsZero())
	assert.True(t, ParseExpiry("").IsZero())
}

func TestClassifyBands(t *testing.T) {
	assert.Equal(t, model.ATM, Classify(model.Call, 100, 101.5, ChainBand))
	assert.Equal(t, model.OTM, Classify(model.Call, 100, 104, ChainBand))
	assert.Equal(t, model.ATM, Classify(model.Call, 100, 104, ScanBand))
	assert.Equal(t, model.ITM, Classify(model.Call, 100, 90, ChainBand))
	assert.Equal(t, model.ITM, Classify(model.Put, 100, 110, ChainBand))
	assert.Equal(t, model.OTM, Classify(model.Put, 100, 90, ChainBand))
}

func contract(kind model.OptionKind, strike float64, vol, oi int64, iv float64, exp time.Time) model.OptionContract {
	return model.OptionContract{Kind: kind, Strike: strike, Volume: vol, OpenInterest: oi, ImpliedVolatility: iv, Expiration: exp}
}

func sampleChain(exp time.Time, ivShift float64) *model.OptionChain {
	return &model.OptionChain{
		Symbol:          "AAPL",
		UnderlyingPrice: 100,
		Expiration:      exp,
		Calls: []model.OptionContract{
			contract(model.Call, 95, 50, 100, 0.30+ivShift, exp),
			contract(model.Call, 100, 500, 200, 0.25+ivShift, exp),
			contract(model.Call, 105, 150, 100, 0.22+ivShift, exp),
		},
		Puts: []model.OptionContract{
			contract(model.Put, 95, 300, 1000, 0.33+ivShift, exp),
			contract(model.Put, 100, 90, 10, 0.27+ivShift, exp),
			contract(model.Put, 105, 20, 50, 0.26+ivShift, exp),
		},
	}
}

func TestPutCallRatio(t *testing.T) {
	exp := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)
	p := ComputePutCallRatio("AAPL", []*model.OptionChain{sampleChain(exp, 0)})
	assert.Equal(t, int64(700), p.CallVolume)
	assert.Equal(t, int64(410), p.PutVolume)
	require.NotNil(t, p.VolumeRatio)
	assert.InDelta(t, 410.0/700, *p.VolumeRatio, 1e-12)
	assert.Equal(t, "bullish", p.Sentiment)

	empty := ComputePutCallRatio("X", nil)
	assert.Nil(t, empty.VolumeRatio)
	assert.Equal(t, "neutral", empty.Sentiment)
}

func TestSurfaceAndHistoricalIV(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	near := sampleChain(now.AddDate(0, 0, 16), 0)
	far := sampleChain(now.AddDate(0, 0, 45), 0.05)
	s := BuildSurface("AAPL", 100, []*model.OptionChain{far, near}, now)

	require.Len(t, s.TermStructure, 2)
	assert.Equal(t, 16, s.TermStructure[0].DaysToExpiry)
	require.NotNil(t, s.ATMIV)
	assert.InDelta(t, 0.26, *s.ATMIV, 1e-12)
	require.NotNil(t, s.Skew)
	assert.InDelta(t, 0.33-0.22, *s.Skew, 1e-12)
	assert.Len(t, s.Smile, 3)

	h := BuildHistoricalIV("AAPL", s)
	assert.True(t, h.Approximation)
	require.NotNil(t, h.IVRank)
	assert.InDelta(t, 0, *h.IVRank, 1e-9)
	assert.InDelta(t, 50, *h.IVPercentile, 1e-9)
}

func TestFindUnusual(t *testing.T) {
	exp := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)
	got := FindUnusual(sampleChain(exp, 0))
	require.Len(t, got, 1, "only the 100 call has vol/oi >= 2 with volume >= 100")
	assert.Equal(t, 100.0, got[0].Strike)
	assert.Equal(t, 2.5, got[0].VolumeOIRatio)
	assert.Equal(t, model.ATM, got[0].Moneyness)
}

func TestScreen(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	ch := sampleChain(now.AddDate(0, 0, 16), 0)
	hits := Screen(ch, Criteria{Kind: model.Put, MinVolume: 50}, now)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, model.Put, h.Kind)
		require.NotNil(t, h.Greeks)
	}
	assert.Empty(t, Screen(ch, Criteria{MinIV: 0.5}, now))
}

type fakeSource struct {
	fetcher.Source
	exps  map[string][]time.Time
	chain map[string]*model.OptionChain
}

func (f *fakeSource) Expirations(_ context.Context, symbol string) ([]time.Time, error) {
	return f.exps[symbol], nil
}

func (f *fakeSource) OptionChain(_ context.Context, symbol string, _ time.Time) (*model.OptionChain, error) {
	ch, ok := f.chain[symbol]
	if !ok {
		return nil, fetcher.ErrNoData
	}
	cp := *ch
	cp.Calls = append([]model.OptionContract(nil), ch.Calls...)
	cp.Puts = append([]model.OptionContract(nil), ch.Puts...)
	return &cp, nil
}

func TestServiceChainWithoutExpirations(t *testing.T) {
	svc := NewService(&fakeSource{exps: map[string][]time.Time{}}, nil)
	_, err := svc.Chain(context.Background(), "ZZZZ", time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrNoData)
	assert.Contains(t, err.Error(), "No options data available for ZZZZ")
}

func TestServiceChainAndScans(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	exp := now.AddDate(0, 0, 16)
	src := &fakeSource{
		exps:  map[string][]time.Time{"AAPL": {exp}},
		chain: map[string]*model.OptionChain{"AAPL": sampleChain(exp, 0)},
	}
	svc := NewService(src, nil)
	svc.SetClock(func() time.Time { return now })

	ch, err := svc.Chain(context.Background(), "AAPL", time.Time{})
	require.NoError(t, err)
	for _, c := range ch.Calls {
		require.NotNil(t, c.Greeks)
		assert.NotEmpty(t, c.Moneyness)
	}

	gv, err := svc.Greeks(context.Background(), "AAPL", time.Time{})
	require.NoError(t, err)
	assert.Len(t, gv.Calls, 3)
	assert.Equal(t, 16, gv.DaysToExpiry)

	rep := svc.UnusualActivity(context.Background(), []string{"AAPL", "MSFT"}, 0)
	assert.Equal(t, 1, rep.Scanned)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "MSFT", rep.Errors[0].Symbol)
	assert.Len(t, rep.Contracts, 1)

	pcr, err := svc.PutCallRatio(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, pcr.Expirations)
}

func TestExpirationFanOutUsesScanSource(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	exp := now.AddDate(0, 0, 16)
	single := &fakeSource{exps: map[string][]time.Time{"AAPL": {exp}}}
	scan := &fakeSource{chain: map[string]*model.OptionChain{"AAPL": sampleChain(exp, 0)}}
	svc := NewService(single, scan)
	svc.SetClock(func() time.Time { return now })

	pcr, err := svc.PutCallRatio(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, pcr.Expirations)

	// 单到期日链走 src，src 没有链数据
	_, err = svc.Chain(context.Background(), "AAPL", time.Time{})
	assert.ErrorIs(t, err, fetcher.ErrNoData)
}
