package quant

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AssetStats holds annualized expected returns and covariance.
type AssetStats struct {
	Symbols []string
	Mean    []float64
	Cov     *mat.SymDense
	Days    int
}

// NewAssetStats annualizes the sample mean and covariance of daily returns.
func NewAssetStats(returns *Frame) (*AssetStats, error) {
	n := len(returns.Symbols)
	if n == 0 {
		return nil, invalid("no symbols with data")
	}
	if returns.Len() < 2 {
		return nil, invalid("need at least 2 overlapping return observations, got %d", returns.Len())
	}
	mu, cov := dailyMoments(returns)
	for j := range mu {
		mu[j] *= TradingDays
	}
	cov.ScaleSym(TradingDays, cov)
	return &AssetStats{Symbols: returns.Symbols, Mean: mu, Cov: cov, Days: returns.Len()}, nil
}

// dailyMoments is the per-asset mean and the sample covariance of daily returns.
func dailyMoments(returns *Frame) ([]float64, *mat.SymDense) {
	n := len(returns.Symbols)
	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		mu[j] = mean(returns.Column(j))
	}
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns.Dense(), nil)
	return mu, cov
}

func (a *AssetStats) n() int { return len(a.Symbols) }

func (a *AssetStats) ret(w []float64) float64 {
	return dotProduct(w, a.Mean)
}

func (a *AssetStats) variance(w []float64) float64 {
	v := mat.NewVecDense(len(w), w)
	return mat.Inner(v, a.Cov, v)
}

func (a *AssetStats) vol(w []float64) float64 {
	v := a.variance(w)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

func (a *AssetStats) covTimes(w []float64) []float64 {
	out := mat.NewVecDense(len(w), nil)
	out.MulVec(a.Cov, mat.NewVecDense(len(w), w))
	return out.RawVector().Data
}

func dotProduct(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Portfolio is one evaluated weight vector.
type Portfolio struct {
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expectedReturn"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
}

func (a *AssetStats) evaluate(w []float64, rf float64) Portfolio {
	r, v := a.ret(w), a.vol(w)
	s := 0.0
	if v > 0 {
		s = (r - rf) / v
	}
	return Portfolio{Weights: weightMap(a.Symbols, w), ExpectedReturn: r, Volatility: v, Sharpe: s}
}

// CloudPoint is a sampled portfolio without its weights.
type CloudPoint struct {
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
	Sharpe     float64 `json:"sharpe"`
}

type MonteCarloFrontierResult struct {
	Portfolios    []CloudPoint `json:"portfolios"`
	MaxSharpe     Portfolio    `json:"maxSharpePortfolio"`
	MinVolatility Portfolio    `json:"minVolatilityPortfolio"`
	Symbols       []string     `json:"symbols"`
	TradingDays   int          `json:"tradingDays"`
}

// MonteCarloFrontier samples n uniform-then-normalized weight vectors.
func MonteCarloFrontier(a *AssetStats, n int, rf float64, rng *rand.Rand) MonteCarloFrontierResult {
	res := MonteCarloFrontierResult{
		Portfolios:  make([]CloudPoint, 0, n),
		Symbols:     a.Symbols,
		TradingDays: a.Days,
	}
	best, least := -1, -1
	bestSharpe, leastVol := math.Inf(-1), math.Inf(1)
	var bestW, leastW []float64

	w := make([]float64, a.n())
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := range w {
			w[j] = rng.Float64()
			sum += w[j]
		}
		if sum == 0 {
			continue
		}
		for j := range w {
			w[j] /= sum
		}
		r, v := a.ret(w), a.vol(w)
		s := 0.0
		if v > 0 {
			s = (r - rf) / v
		}
		res.Portfolios = append(res.Portfolios, CloudPoint{Return: r, Volatility: v, Sharpe: s})
		if s > bestSharpe {
			best, bestSharpe = i, s
			bestW = append(bestW[:0], w...)
		}
		if v < leastVol {
			least, leastVol = i, v
			leastW = append(leastW[:0], w...)
		}
	}
	if best >= 0 {
		res.MaxSharpe = a.evaluate(bestW, rf)
	}
	if least >= 0 {
		res.MinVolatility = a.evaluate(leastW, rf)
	}
	return res
}

// Bounds limits every weight to [Min, Max].
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func DefaultBounds() Bounds { return Bounds{Min: 0, Max: 1} }

func (b Bounds) validate(n int) error {
	if b.Min < 0 || b.Max > 1 || b.Min > b.Max {
		return invalid("weight bounds must satisfy 0 <= min <= max <= 1, got [%g, %g]", b.Min, b.Max)
	}
	if float64(n)*b.Min > 1+1e-9 || float64(n)*b.Max < 1-1e-9 {
		return invalid("weight bounds [%g, %g] are infeasible for %d assets", b.Min, b.Max, n)
	}
	return nil
}

// project maps v onto {sum(w)=1, lo<=w<=hi} by bisecting the shift tau.
func (b Bounds) project(v []float64) []float64 {
	clip := func(x float64) float64 { return math.Min(b.Max, math.Max(b.Min, x)) }
	sumAt := func(tau float64) float64 {
		s := 0.0
		for _, x := range v {
			s += clip(x - tau)
		}
		return s
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x-b.Max)
		hi = math.Max(hi, x-b.Min)
	}
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if sumAt(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	tau := (lo + hi) / 2
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = clip(x - tau)
	}
	return out
}

const (
	maxIter   = 1000
	objTol    = 1e-12
	stepFloor = 1e-14
)

// minimize runs projected gradient descent with backtracking from w0.
// It reports whether the iteration settled before maxIter.
func minimize(f func([]float64) float64, grad func([]float64) []float64, b Bounds, w0 []float64) ([]float64, bool) {
	w := b.project(w0)
	fw := f(w)
	step := 1.0
	for it := 0; it < maxIter; it++ {
		g := grad(w)
		moved := false
		for step > stepFloor {
			cand := make([]float64, len(w))
			for i := range w {
				cand[i] = w[i] - step*g[i]
			}
			cand = b.project(cand)
			fc := f(cand)
			// Armijo condition on the projected step
			dec := 0.0
			for i := range w {
				dec += g[i] * (w[i] - cand[i])
			}
			if fc <= fw-1e-4*dec {
				change := 0.0
				for i := range w {
					change = math.Max(change, math.Abs(cand[i]-w[i]))
				}
				improved := fw - fc
				w, fw = cand, fc
				moved = true
				step *= 2
				if change < 1e-10 || improved < objTol {
					return w, true
				}
				break
			}
			step /= 2
		}
		if !moved {
			// no descent direction left inside the feasible set
			return w, true
		}
	}
	return w, false
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// MaxSharpeWeights maximizes the Sharpe ratio under the bounds.
func MaxSharpeWeights(a *AssetStats, b Bounds, rf float64) ([]float64, bool) {
	f := func(w []float64) float64 {
		v := a.vol(w)
		if v == 0 {
			return 0
		}
		return -(a.ret(w) - rf) / v
	}
	grad := func(w []float64) []float64 {
		v := a.vol(w)
		g := make([]float64, len(w))
		if v == 0 {
			for i := range g {
				g[i] = -a.Mean[i]
			}
			return g
		}
		ex := a.ret(w) - rf
		sw := a.covTimes(w)
		for i := range g {
			g[i] = -(a.Mean[i]*v - ex*sw[i]/v) / (v * v)
		}
		return g
	}
	return minimize(f, grad, b, equalWeights(a.n()))
}

// MinVolatilityWeights minimizes portfolio variance under the bounds.
func MinVolatilityWeights(a *AssetStats, b Bounds) ([]float64, bool) {
	f := a.variance
	grad := func(w []float64) []float64 {
		sw := a.covTimes(w)
		for i := range sw {
			sw[i] *= 2
		}
		return sw
	}
	return minimize(f, grad, b, equalWeights(a.n()))
}

// targetVolatility minimizes variance subject to an expected return target,
// using a quadratic penalty tightened over a few rounds.
func targetVolatility(a *AssetStats, b Bounds, target float64, w0 []float64) ([]float64, bool) {
	w := w0
	for _, rho := range []float64{1e2, 1e4, 1e5} {
		f := func(w []float64) float64 {
			d := a.ret(w) - target
			return a.variance(w) + rho*d*d
		}
		grad := func(w []float64) []float64 {
			d := a.ret(w) - target
			sw := a.covTimes(w)
			for i := range sw {
				sw[i] = 2*sw[i] + 2*rho*d*a.Mean[i]
			}
			return sw
		}
		w, _ = minimize(f, grad, b, w)
	}
	return w, math.Abs(a.ret(w)-target) < 1e-4
}

type ConstrainedResult struct {
	MaxSharpe         Portfolio   `json:"maxSharpePortfolio"`
	MinVolatility     Portfolio   `json:"minVolatilityPortfolio"`
	EfficientFrontier []Portfolio `json:"efficientFrontier"`
	Symbols           []string    `json:"symbols"`
	TradingDays       int         `json:"tradingDays"`
}

// OptimizeConstrained finds the max-Sharpe and min-volatility portfolios and,
// when points > 0, walks target returns between them for the frontier.
// Targets the solver cannot reach are left out.
func OptimizeConstrained(a *AssetStats, b Bounds, rf float64, points int) (*ConstrainedResult, error) {
	if err := b.validate(a.n()); err != nil {
		return nil, err
	}
	ws, _ := MaxSharpeWeights(a, b, rf)
	wv, _ := MinVolatilityWeights(a, b)

	res := &ConstrainedResult{
		MaxSharpe:         a.evaluate(ws, rf),
		MinVolatility:     a.evaluate(wv, rf),
		EfficientFrontier: []Portfolio{},
		Symbols:           a.Symbols,
		TradingDays:       a.Days,
	}
	if points <= 0 {
		return res, nil
	}

	lo, hi := a.ret(wv), a.ret(ws)
	w := wv
	for i := 0; i < points; i++ {
		target := lo
		if points > 1 {
			target = lo + (hi-lo)*float64(i)/float64(points-1)
		}
		var ok bool
		w, ok = targetVolatility(a, b, target, w)
		if !ok {
			continue
		}
		p := a.evaluate(w, rf)
		res.EfficientFrontier = append(res.EfficientFrontier, p)
	}
	return res, nil
}
