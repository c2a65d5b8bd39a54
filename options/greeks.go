// Package options computes Black-Scholes Greeks and chain-level analytics.
package options

import (
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"marketintel/model"
)

// RiskFreeRate is the fixed rate used for every Greeks calculation.
const RiskFreeRate = 0.05

// Fallbacks returned when inputs are degenerate or a result is not finite.
const (
	fallbackDelta = 0.5
	fallbackGamma = 0.001
	fallbackTheta = -0.05
	fallbackVega  = 0.01

	minGamma = 0.0001
	minVega  = 0.001

	defaultDays = 30
)

var unitNormal = distuv.UnitNormal

// TimeToExpiry is max(1, days to expiration)/365. A zero expiration means
// the date could not be parsed and gives 30/365.
func TimeToExpiry(expiration, now time.Time) float64 {
	if expiration.IsZero() {
		return defaultDays / 365.0
	}
	days := math.Floor(expiration.Sub(now).Hours() / 24)
	return math.Max(1, days) / 365
}

// ParseExpiry accepts YYYY-MM-DD or a unix timestamp; anything else gives
// the zero time.
func ParseExpiry(s string) time.Time {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func fallback(kind model.OptionKind) model.Greeks {
	d := fallbackDelta
	if kind == model.Put {
		d = -fallbackDelta
	}
	return model.Greeks{Delta: d, Gamma: fallbackGamma, Theta: fallbackTheta, Vega: fallbackVega}
}

func ok(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Greeks prices sensitivities of a European option. Theta is per calendar
// day and vega per 1% move in volatility. Each value that cannot be computed
// falls back to its sentinel independently.
func Greeks(kind model.OptionKind, spot, strike, sigma, t, r float64) model.Greeks {
	fb := fallback(kind)
	if !(spot > 0) || !(strike > 0) || !(sigma > 0) || !(t > 0) || !ok(spot+strike+sigma+t+r) {
		return fb
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r+sigma*sigma/2)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := unitNormal.Prob(d1)
	disc := math.Exp(-r * t)

	g := model.Greeks{}
	if kind == model.Put {
		g.Delta = unitNormal.CDF(d1) - 1
		g.Theta = (-spot*pdf*sigma/(2*sqrtT) + r*strike*disc*unitNormal.CDF(-d2)) / 365
	} else {
		g.Delta = unitNormal.CDF(d1)
		g.Theta = (-spot*pdf*sigma/(2*sqrtT) - r*strike*disc*unitNormal.CDF(d2)) / 365
	}
	g.Gamma = pdf / (spot * sigma * sqrtT)
	g.Vega = spot * pdf * sqrtT / 100

	if !ok(g.Delta) {
		g.Delta = fb.Delta
	}
	if !ok(g.Gamma) {
		g.Gamma = fb.Gamma
	} else {
		g.Gamma = math.Max(g.Gamma, minGamma)
	}
	if !ok(g.Theta) {
		g.Theta = fb.Theta
	}
	if !ok(g.Vega) {
		g.Vega = fb.Vega
	} else {
		g.Vega = math.Max(g.Vega, minVega)
	}

	if kind == model.Call && math.Abs(strike/spot-1) < 0.02 && g.Delta < 0.4 {
		log.Warn().Float64("spot", spot).Float64("strike", strike).Float64("iv", sigma).Float64("t", t).
			Float64("delta", g.Delta).Msg("[options] suspiciously low ATM call delta")
	}
	return g
}

// Moneyness bands: chain and greeks views use 2%, scans use 5%.
const (
	ChainBand = 0.02
	ScanBand  = 0.05
)

// Classify labels a contract ATM when the strike is within band of spot.
func Classify(kind model.OptionKind, spot, strike, band float64) model.Moneyness {
	if spot <= 0 {
		return model.OTM
	}
	if math.Abs(strike-spot)/spot <= band {
		return model.ATM
	}
	if (kind == model.Call && spot > strike) || (kind == model.Put && strike > spot) {
		return model.ITM
	}
	return model.OTM
}

// Enrich fills Greeks and Moneyness on every contract of the chain.
func Enrich(chain *model.OptionChain, now time.Time, band float64) {
	spot := chain.UnderlyingPrice
	fill := func(cs []model.OptionContract) {
		for i := range cs {
			c := &cs[i]
			t := TimeToExpiry(c.Expiration, now)
			g := Greeks(c.Kind, spot, c.Strike, c.ImpliedVolatility, t, RiskFreeRate)
			c.Greeks = &g
			c.Moneyness = Classify(c.Kind, spot, c.Strike, band)
		}
	}
	fill(chain.Calls)
	fill(chain.Puts)
}
