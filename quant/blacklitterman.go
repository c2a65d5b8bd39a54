package quant

import (
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultRiskAversion = 2.5
	DefaultTau          = 0.05
)

// View is an absolute return view on one asset. Confidence is in (0, 1].
// Symbols is accepted only so that multi-asset views can be rejected explicitly.
type View struct {
	Symbol         string   `json:"symbol"`
	Symbols        []string `json:"symbols,omitempty"`
	ExpectedReturn float64  `json:"expectedReturn"`
	Confidence     float64  `json:"confidence"`
}

type BlackLittermanResult struct {
	Symbols           []string           `json:"symbols"`
	MarketWeights     map[string]float64 `json:"marketWeights"`
	EquilibriumReturn map[string]float64 `json:"equilibriumReturns"`
	PosteriorReturn   map[string]float64 `json:"posteriorReturns"`
	ViewsApplied      int                `json:"viewsApplied"`
	Posterior         *AssetStats        `json:"-"`
}

// BlackLitterman blends the market-implied returns pi = delta*Sigma*w with
// single-asset views. Without views the posterior mean is pi and the
// covariance is Sigma.
func BlackLitterman(a *AssetStats, wMarket []float64, views []View, delta, tau float64) (*BlackLittermanResult, error) {
	n := a.n()
	if len(wMarket) != n {
		return nil, invalid("market weights length %d does not match %d assets", len(wMarket), n)
	}
	if delta <= 0 {
		delta = DefaultRiskAversion
	}
	if tau <= 0 {
		tau = DefaultTau
	}

	w := mat.NewVecDense(n, append([]float64(nil), wMarket...))
	pi := mat.NewVecDense(n, nil)
	pi.MulVec(a.Cov, w)
	pi.ScaleVec(delta, pi)

	res := &BlackLittermanResult{
		Symbols:           a.Symbols,
		MarketWeights:     weightMap(a.Symbols, wMarket),
		EquilibriumReturn: weightMap(a.Symbols, pi.RawVector().Data),
	}

	if len(views) == 0 {
		res.PosteriorReturn = res.EquilibriumReturn
		res.Posterior = &AssetStats{Symbols: a.Symbols, Mean: vecData(pi), Cov: a.Cov, Days: a.Days}
		return res, nil
	}

	k := len(views)
	P := mat.NewDense(k, n, nil)
	Q := mat.NewVecDense(k, nil)
	for i, v := range views {
		if len(v.Symbols) > 1 {
			return nil, invalid("multi-asset views are not supported")
		}
		sym := v.Symbol
		if sym == "" && len(v.Symbols) == 1 {
			sym = v.Symbols[0]
		}
		j := indexOf(a.Symbols, sym)
		if j < 0 {
			return nil, invalid("view symbol %s is not in the portfolio", sym)
		}
		if v.Confidence <= 0 || v.Confidence > 1 {
			return nil, invalid("view confidence for %s must be in (0, 1]", sym)
		}
		P.Set(i, j, 1)
		Q.SetVec(i, v.ExpectedReturn)
	}

	var tauSigma mat.SymDense
	tauSigma.ScaleSym(tau, a.Cov)

	// Omega_ii = tau * P_i Sigma P_i^T / confidence_i
	omegaInv := mat.NewDiagDense(k, nil)
	for i, v := range views {
		pv := mat.NewVecDense(n, P.RawRowView(i))
		o := mat.Inner(pv, &tauSigma, pv) / v.Confidence
		if o <= 0 {
			return nil, invalid("view on %s has zero variance", v.Symbol)
		}
		omegaInv.SetDiag(i, 1/o)
	}

	var tsInv mat.Dense
	if err := tsInv.Inverse(&tauSigma); err != nil {
		return nil, invalid("covariance matrix is singular")
	}

	// A = (tau Sigma)^-1 + P^T Omega^-1 P
	var ptOi, ptOiP, A mat.Dense
	ptOi.Mul(P.T(), omegaInv)
	ptOiP.Mul(&ptOi, P)
	A.Add(&tsInv, &ptOiP)

	var M mat.Dense
	if err := M.Inverse(&A); err != nil {
		return nil, invalid("posterior precision matrix is singular")
	}

	// b = (tau Sigma)^-1 pi + P^T Omega^-1 Q
	var b1, b2, b mat.VecDense
	b1.MulVec(&tsInv, pi)
	b2.MulVec(&ptOi, Q)
	b.AddVec(&b1, &b2)

	var post mat.VecDense
	post.MulVec(&M, &b)

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, a.Cov.At(i, j)+(M.At(i, j)+M.At(j, i))/2)
		}
	}

	res.ViewsApplied = k
	res.PosteriorReturn = weightMap(a.Symbols, vecData(&post))
	res.Posterior = &AssetStats{Symbols: a.Symbols, Mean: vecData(&post), Cov: cov, Days: a.Days}
	return res, nil
}

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func indexOf(s []string, x string) int {
	for i, v := range s {
		if v == x {
			return i
		}
	}
	return -1
}
