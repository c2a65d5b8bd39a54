package quant

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type Pair struct {
	A           string  `json:"asset1"`
	B           string  `json:"asset2"`
	Correlation float64 `json:"correlation"`
}

type Cluster struct {
	ID                 int      `json:"id"`
	Symbols            []string `json:"symbols"`
	AverageCorrelation float64  `json:"averageCorrelation"`
}

type Loading struct {
	Symbol  string  `json:"symbol"`
	Loading float64 `json:"loading"`
}

type Component struct {
	Index             int       `json:"component"`
	VarianceExplained float64   `json:"varianceExplained"`
	Cumulative        float64   `json:"cumulativeVariance"`
	TopLoadings       []Loading `json:"topContributors"`
}

type CorrelationResult struct {
	Symbols            []string    `json:"symbols"`
	Matrix             [][]float64 `json:"correlationMatrix"`
	AverageCorrelation float64     `json:"averageCorrelation"`
	MostCorrelated     *Pair       `json:"mostCorrelated"`
	LeastCorrelated    *Pair       `json:"leastCorrelated"`
	Clusters           []Cluster   `json:"clusters"`
	Components         []Component `json:"pca"`
	TradingDays        int         `json:"tradingDays"`
}

// Correlate builds the Pearson correlation matrix of daily returns, groups
// assets with k-means over its rows and runs PCA on it.
func Correlate(returns *Frame) (*CorrelationResult, error) {
	n := len(returns.Symbols)
	if n < 2 {
		return nil, invalid("correlation analysis needs at least 2 symbols with data, got %d", n)
	}
	if returns.Len() < 3 {
		return nil, invalid("not enough overlapping history for correlation analysis")
	}

	corr := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(corr, returns.Dense(), nil)
	// constant series produce NaN; treat them as uncorrelated
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if math.IsNaN(corr.At(i, j)) {
				v := 0.0
				if i == j {
					v = 1
				}
				corr.SetSym(i, j, v)
			}
		}
	}

	res := &CorrelationResult{
		Symbols:     returns.Symbols,
		Matrix:      make([][]float64, n),
		TradingDays: returns.Len(),
	}
	for i := 0; i < n; i++ {
		res.Matrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			res.Matrix[i][j] = corr.At(i, j)
		}
	}

	sum, cnt := 0.0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := corr.At(i, j)
			sum += c
			cnt++
			p := &Pair{A: returns.Symbols[i], B: returns.Symbols[j], Correlation: c}
			if res.MostCorrelated == nil || c > res.MostCorrelated.Correlation {
				res.MostCorrelated = p
			}
			if res.LeastCorrelated == nil || c < res.LeastCorrelated.Correlation {
				res.LeastCorrelated = p
			}
		}
	}
	res.AverageCorrelation = sum / float64(cnt)

	res.Clusters = clusterRows(res.Matrix, returns.Symbols, clusterCount(n))
	comps, err := principalComponents(corr, returns.Symbols, 3)
	if err != nil {
		return nil, err
	}
	res.Components = comps
	return res, nil
}

// clusterCount is clamp(n/3, 2, 5), never more than n.
func clusterCount(n int) int {
	k := n / 3
	if k < 2 {
		k = 2
	}
	if k > 5 {
		k = 5
	}
	if k > n {
		k = n
	}
	return k
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// clusterRows runs Lloyd's k-means with farthest-point seeding from row 0,
// so the result is deterministic.
func clusterRows(rows [][]float64, symbols []string, k int) []Cluster {
	n := len(rows)
	centers := [][]float64{append([]float64(nil), rows[0]...)}
	for len(centers) < k {
		best, bestD := -1, -1.0
		for i, r := range rows {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, sqDist(r, c))
			}
			if d > bestD {
				best, bestD = i, d
			}
		}
		centers = append(centers, append([]float64(nil), rows[best]...))
	}

	assign := make([]int, n)
	for it := 0; it < 100; it++ {
		changed := false
		for i, r := range rows {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centers {
				if d := sqDist(r, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best || it == 0 {
				changed = changed || assign[i] != best
				assign[i] = best
			}
		}
		for c := range centers {
			cnt := 0
			next := make([]float64, len(rows[0]))
			for i, r := range rows {
				if assign[i] != c {
					continue
				}
				cnt++
				floats.Add(next, r)
			}
			if cnt == 0 {
				continue
			}
			floats.Scale(1/float64(cnt), next)
			centers[c] = next
		}
		if !changed && it > 0 {
			break
		}
	}

	var out []Cluster
	for c := range centers {
		var members []int
		for i, a := range assign {
			if a == c {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}
		cl := Cluster{ID: len(out)}
		sum, cnt := 0.0, 0
		for x, i := range members {
			cl.Symbols = append(cl.Symbols, symbols[i])
			for _, j := range members[x+1:] {
				sum += rows[i][j]
				cnt++
			}
		}
		if cnt > 0 {
			cl.AverageCorrelation = sum / float64(cnt)
		} else {
			cl.AverageCorrelation = 1
		}
		out = append(out, cl)
	}
	return out
}

// principalComponents eigendecomposes the correlation matrix and keeps up to
// max components with their three largest absolute loadings.
func principalComponents(corr *mat.SymDense, symbols []string, max int) ([]Component, error) {
	n := len(symbols)
	var eig mat.EigenSym
	if ok := eig.Factorize(corr, true); !ok {
		return nil, invalid("eigendecomposition of the correlation matrix failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	total := 0.0
	for _, v := range vals {
		if v > 0 {
			total += v
		}
	}
	if max > n {
		max = n
	}

	out := make([]Component, 0, max)
	cum := 0.0
	for c := 0; c < max; c++ {
		idx := order[c]
		ev := math.Max(vals[idx], 0)
		share := 0.0
		if total > 0 {
			share = ev / total
		}
		cum += share

		loads := make([]Loading, n)
		sign := 1.0
		maxAbs := 0.0
		for i := 0; i < n; i++ {
			v := vecs.At(i, idx)
			if math.Abs(v) > maxAbs {
				maxAbs = math.Abs(v)
				sign = math.Copysign(1, v)
			}
		}
		for i := 0; i < n; i++ {
			loads[i] = Loading{Symbol: symbols[i], Loading: sign * vecs.At(i, idx)}
		}
		sort.SliceStable(loads, func(a, b int) bool { return math.Abs(loads[a].Loading) > math.Abs(loads[b].Loading) })
		if len(loads) > 3 {
			loads = loads[:3]
		}
		out = append(out, Component{Index: c + 1, VarianceExplained: share, Cumulative: cum, TopLoadings: loads})
	}
	return out, nil
}
