package quant

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"marketintel/model"
)

// Frame is a date-by-asset table. Rows[i][j] is the value of Symbols[j] on Dates[i].
type Frame struct {
	Symbols []string
	Dates   []string
	Rows    [][]float64
}

func (f *Frame) Len() int { return len(f.Dates) }

// Column returns the values of one asset.
func (f *Frame) Column(j int) []float64 {
	out := make([]float64, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r[j]
	}
	return out
}

// Index returns the column of symbol, or -1.
func (f *Frame) Index(symbol string) int {
	for j, s := range f.Symbols {
		if s == symbol {
			return j
		}
	}
	return -1
}

// Align builds a close-price frame over the union of dates, forward-fills gaps
// and drops leading rows that still have a missing value. Symbols without data
// are left out; order follows the symbols argument.
func Align(symbols []string, series map[string]model.PriceSeries) *Frame {
	var cols []string
	byDate := make(map[string]map[string]float64)
	for _, s := range symbols {
		ps, ok := series[s]
		if !ok || len(ps) == 0 {
			continue
		}
		cols = append(cols, s)
		for _, b := range ps {
			d := b.Time.Format("2006-01-02")
			m := byDate[d]
			if m == nil {
				m = make(map[string]float64)
				byDate[d] = m
			}
			m[s] = b.Close
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	f := &Frame{Symbols: cols}
	last := make([]float64, len(cols))
	for j := range last {
		last[j] = math.NaN()
	}
	for _, d := range dates {
		row := make([]float64, len(cols))
		complete := true
		for j, s := range cols {
			if v, ok := byDate[d][s]; ok {
				last[j] = v
			}
			row[j] = last[j]
			if math.IsNaN(row[j]) {
				complete = false
			}
		}
		if complete {
			f.Dates = append(f.Dates, d)
			f.Rows = append(f.Rows, row)
		}
	}
	return f
}

// Returns computes simple daily returns; the first date is dropped.
func Returns(prices *Frame) *Frame {
	out := &Frame{Symbols: prices.Symbols}
	for i := 1; i < len(prices.Rows); i++ {
		row := make([]float64, len(prices.Symbols))
		for j := range row {
			prev := prices.Rows[i-1][j]
			if prev != 0 {
				row[j] = prices.Rows[i][j]/prev - 1
			}
		}
		out.Dates = append(out.Dates, prices.Dates[i])
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Weighted returns the per-date weighted sum of the frame's columns.
func (f *Frame) Weighted(weights []float64) []float64 {
	out := make([]float64, len(f.Rows))
	for i, r := range f.Rows {
		s := 0.0
		for j, v := range r {
			s += v * weights[j]
		}
		out[i] = s
	}
	return out
}

// Dense copies the frame into a T x n matrix.
func (f *Frame) Dense() *mat.Dense {
	m := mat.NewDense(len(f.Rows), len(f.Symbols), nil)
	for i, r := range f.Rows {
		m.SetRow(i, r)
	}
	return m
}

// SeriesReturns gives date-keyed simple returns of a single price series.
func SeriesReturns(ps model.PriceSeries) (dates []string, rets []float64) {
	for i := 1; i < len(ps); i++ {
		if ps[i-1].Close == 0 {
			continue
		}
		dates = append(dates, ps[i].Time.Format("2006-01-02"))
		rets = append(rets, ps[i].Close/ps[i-1].Close-1)
	}
	return dates, rets
}

// Intersect pairs two date-keyed return series on their common dates.
func Intersect(datesA []string, a []float64, datesB []string, b []float64) ([]float64, []float64) {
	idx := make(map[string]int, len(datesB))
	for i, d := range datesB {
		idx[d] = i
	}
	var outA, outB []float64
	for i, d := range datesA {
		if j, ok := idx[d]; ok {
			outA = append(outA, a[i])
			outB = append(outB, b[j])
		}
	}
	return outA, outB
}
