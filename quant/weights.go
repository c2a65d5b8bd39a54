package quant

import (
	"math"

	"github.com/rs/zerolog/log"
)

const weightTolerance = 0.01

// NormalizeWeights maps weights onto symbols. Missing symbols get 0 and nil
// weights mean equal weighting. A total within 0.01 of 1 is used as-is; any
// other positive total is rescaled with a warning.
func NormalizeWeights(symbols []string, weights map[string]float64) ([]float64, error) {
	out := make([]float64, len(symbols))
	if len(symbols) == 0 {
		return out, invalid("no symbols")
	}
	if len(weights) == 0 {
		for i := range out {
			out[i] = 1 / float64(len(symbols))
		}
		return out, nil
	}

	total := 0.0
	for i, s := range symbols {
		w := weights[s]
		if !finite(w) || w < 0 {
			return nil, invalid("weight for %s must be a non-negative number", s)
		}
		out[i] = w
		total += w
	}
	if total <= 0 {
		return nil, invalid("portfolio weights sum to %.4f", total)
	}
	if math.Abs(total-1) > weightTolerance {
		log.Warn().Float64("total", total).Msg("[quant] portfolio weights do not sum to 1, normalizing")
		for i := range out {
			out[i] /= total
		}
	}
	return out, nil
}

func weightMap(symbols []string, w []float64) map[string]float64 {
	m := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		m[s] = w[i]
	}
	return m
}
