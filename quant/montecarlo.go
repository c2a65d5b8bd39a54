package quant

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	MaxSimulations = 50000
	MaxHorizonDays = 2520
	maxSamplePaths = 100
)

// SimConfig controls one Monte Carlo run. Paths are generated from Seed, so
// equal configs give equal results.
type SimConfig struct {
	Horizon int
	Sims    int
	Initial float64
	Seed    uint64
}

func (c SimConfig) validate() error {
	if c.Sims < 1 || c.Sims > MaxSimulations {
		return invalid("numSimulations must be between 1 and %d", MaxSimulations)
	}
	if c.Horizon < 1 || c.Horizon > MaxHorizonDays {
		return invalid("timeHorizonDays must be between 1 and %d", MaxHorizonDays)
	}
	if !(c.Initial > 0) || !finite(c.Initial) {
		return invalid("initialCapital must be positive")
	}
	return nil
}

type SimulationStats struct {
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	Std          float64 `json:"std"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Percentile5  float64 `json:"percentile5"`
	Percentile25 float64 `json:"percentile25"`
	Percentile50 float64 `json:"percentile50"`
	Percentile75 float64 `json:"percentile75"`
	Percentile95 float64 `json:"percentile95"`
	ProbPositive float64 `json:"probPositive"`
}

type SimulationResult struct {
	Statistics      SimulationStats      `json:"statistics"`
	PercentilePaths map[string][]float64 `json:"percentilePaths"`
	SamplePaths     [][]float64          `json:"samplePaths"`
	InitialCapital  float64              `json:"initialCapital"`
	TimeHorizonDays int                  `json:"timeHorizonDays"`
	NumSimulations  int                  `json:"numSimulations"`
	Method          string               `json:"method"`
}

// stepFunc draws one day's portfolio return.
type stepFunc func(rng *rand.Rand) float64

// SimulateNormal compounds i.i.d. normal daily returns with the given mean and
// standard deviation.
func SimulateNormal(mu, sigma float64, cfg SimConfig) (*SimulationResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !finite(mu) || !finite(sigma) || sigma < 0 {
		return nil, invalid("return statistics are not finite")
	}
	step := func(rng *rand.Rand) float64 { return mu + sigma*rng.NormFloat64() }
	res := simulate(step, cfg)
	res.Method = "normal"
	return res, nil
}

// SimulateCorrelated draws asset returns as means + L z, where L is the
// Cholesky factor of cov, and applies the weights each day. A covariance that
// is not positive definite falls back to its diagonal.
func SimulateCorrelated(means []float64, cov *mat.SymDense, weights []float64, cfg SimConfig) (*SimulationResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := len(means)
	if n == 0 || cov.SymmetricDim() != n || len(weights) != n {
		return nil, invalid("mean, covariance and weight dimensions do not match")
	}

	L := mat.NewTriDense(n, mat.Lower, nil)
	method := "cholesky"
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		chol.LTo(L)
	} else {
		method = "diagonal"
		for i := 0; i < n; i++ {
			L.SetTri(i, i, math.Sqrt(math.Max(cov.At(i, i), 0)))
		}
	}

	// w·(mu + Lz) = w·mu + (L^T w)·z
	base := dotProduct(weights, means)
	lw := mat.NewVecDense(n, nil)
	lw.MulVec(L.T(), mat.NewVecDense(n, append([]float64(nil), weights...)))
	load := vecData(lw)

	step := func(rng *rand.Rand) float64 {
		r := base
		for i := 0; i < n; i++ {
			r += load[i] * rng.NormFloat64()
		}
		return r
	}
	res := simulate(step, cfg)
	res.Method = method
	return res, nil
}

// pathRand gives path i its own stream so any path can be regenerated
// without keeping the whole sims x horizon matrix in memory.
func pathRand(seed uint64, i int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(i)))
}

func runPath(step stepFunc, cfg SimConfig, i int, keep bool) (float64, []float64) {
	rng := pathRand(cfg.Seed, i)
	v := cfg.Initial
	var path []float64
	if keep {
		path = make([]float64, 0, cfg.Horizon+1)
		path = append(path, v)
	}
	for d := 0; d < cfg.Horizon; d++ {
		v *= 1 + step(rng)
		if keep {
			path = append(path, v)
		}
	}
	return v, path
}

func simulate(step stepFunc, cfg SimConfig) *SimulationResult {
	finals := make([]float64, cfg.Sims)
	for i := range finals {
		finals[i], _ = runPath(step, cfg, i, false)
	}

	sorted := append([]float64(nil), finals...)
	sort.Float64s(sorted)
	pos := 0
	for _, v := range finals {
		if v > cfg.Initial {
			pos++
		}
	}
	st := SimulationStats{
		Mean:         mean(finals),
		Median:       percentileSorted(sorted, 50),
		Std:          popStd(finals),
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Percentile5:  percentileSorted(sorted, 5),
		Percentile25: percentileSorted(sorted, 25),
		Percentile50: percentileSorted(sorted, 50),
		Percentile75: percentileSorted(sorted, 75),
		Percentile95: percentileSorted(sorted, 95),
		ProbPositive: float64(pos) / float64(cfg.Sims),
	}

	targets := []struct {
		key string
		v   float64
	}{
		{"5", st.Percentile5}, {"25", st.Percentile25}, {"50", st.Percentile50},
		{"75", st.Percentile75}, {"95", st.Percentile95},
	}
	pp := make(map[string][]float64, len(targets))
	for _, t := range targets {
		_, pp[t.key] = runPath(step, cfg, nearest(finals, t.v), true)
	}

	k := min(maxSamplePaths, cfg.Sims)
	picker := rand.New(rand.NewPCG(cfg.Seed, math.MaxUint64))
	idx := picker.Perm(cfg.Sims)[:k]
	samples := make([][]float64, k)
	for j, i := range idx {
		_, samples[j] = runPath(step, cfg, i, true)
	}

	return &SimulationResult{
		Statistics:      st,
		PercentilePaths: pp,
		SamplePaths:     samples,
		InitialCapital:  cfg.Initial,
		TimeHorizonDays: cfg.Horizon,
		NumSimulations:  cfg.Sims,
	}
}

func nearest(x []float64, target float64) int {
	best, bestD := 0, math.Inf(1)
	for i, v := range x {
		if d := math.Abs(v - target); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}
