// Package indicator computes technical indicators over close series.
// Outputs are aligned with the input; undefined positions hold NaN.
package indicator

import "math"

type Line []float64

type Point struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

func (l Line) At(i int) (float64, bool) {
	if i < 0 || i >= len(l) || math.IsNaN(l[i]) {
		return 0, false
	}
	return l[i], true
}

// Points returns only the defined values.
func (l Line) Points() []Point {
	out := make([]Point, 0, len(l))
	for i, v := range l {
		if !math.IsNaN(v) {
			out = append(out, Point{Index: i, Value: v})
		}
	}
	return out
}

func (l Line) Last() (float64, bool) { return l.At(len(l) - 1) }

func nanLine(n int) Line {
	l := make(Line, n)
	for i := range l {
		l[i] = math.NaN()
	}
	return l
}
