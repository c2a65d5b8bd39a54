package options

import (
	"math"
	"sort"
	"time"

	"marketintel/model"
)

type PutCallRatio struct {
	Symbol           string   `json:"symbol"`
	CallVolume       int64    `json:"callVolume"`
	PutVolume        int64    `json:"putVolume"`
	CallOpenInterest int64    `json:"callOpenInterest"`
	PutOpenInterest  int64    `json:"putOpenInterest"`
	VolumeRatio      *float64 `json:"volumeRatio"`
	OIRatio          *float64 `json:"openInterestRatio"`
	Sentiment        string   `json:"sentiment"`
	Expirations      int      `json:"expirationsAnalyzed"`
}

func ratio(a, b int64) *float64 {
	if b == 0 {
		return nil
	}
	v := float64(a) / float64(b)
	return &v
}

// sentiment reads the volume ratio: above 1 puts dominate, below 0.7 calls do.
func sentiment(r *float64) string {
	switch {
	case r == nil:
		return "neutral"
	case *r > 1.0:
		return "bearish"
	case *r < 0.7:
		return "bullish"
	default:
		return "neutral"
	}
}

// ComputePutCallRatio sums volume and open interest over the chains.
func ComputePutCallRatio(symbol string, chains []*model.OptionChain) PutCallRatio {
	p := PutCallRatio{Symbol: symbol, Expirations: len(chains)}
	for _, ch := range chains {
		for _, c := range ch.Calls {
			p.CallVolume += c.Volume
			p.CallOpenInterest += c.OpenInterest
		}
		for _, c := range ch.Puts {
			p.PutVolume += c.Volume
			p.PutOpenInterest += c.OpenInterest
		}
	}
	p.VolumeRatio = ratio(p.PutVolume, p.CallVolume)
	p.OIRatio = ratio(p.PutOpenInterest, p.CallOpenInterest)
	p.Sentiment = sentiment(p.VolumeRatio)
	return p
}

// atmIV is the implied volatility of the contract with the strike closest to spot.
func atmIV(cs []model.OptionContract, spot float64) (float64, bool) {
	best, bestD := -1, math.Inf(1)
	for i, c := range cs {
		if c.ImpliedVolatility <= 0 {
			continue
		}
		if d := math.Abs(c.Strike - spot); d < bestD {
			best, bestD = i, d
		}
	}
	if best < 0 {
		return 0, false
	}
	return cs[best].ImpliedVolatility, true
}

func avgIV(cs []model.OptionContract, keep func(model.OptionContract) bool) (float64, bool) {
	sum, n := 0.0, 0
	for _, c := range cs {
		if c.ImpliedVolatility > 0 && keep(c) {
			sum += c.ImpliedVolatility
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

type TermPoint struct {
	Expiration   string   `json:"expiration"`
	DaysToExpiry int      `json:"daysToExpiry"`
	ATMIV        *float64 `json:"atmIV"`
	CallATMIV    *float64 `json:"callAtmIV"`
	PutATMIV     *float64 `json:"putAtmIV"`
}

type SmilePoint struct {
	Strike float64  `json:"strike"`
	CallIV *float64 `json:"callIV"`
	PutIV  *float64 `json:"putIV"`
}

type Surface struct {
	Symbol          string       `json:"symbol"`
	UnderlyingPrice float64      `json:"underlyingPrice"`
	ATMIV           *float64     `json:"atmIV"`
	Skew            *float64     `json:"skew"`
	TermStructure   []TermPoint  `json:"termStructure"`
	Smile           []SmilePoint `json:"smile"`
}

func ptr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func days(exp, now time.Time) int {
	return int(math.Max(0, math.Floor(exp.Sub(now).Hours()/24)))
}

// BuildSurface summarizes IV across expirations: ATM IV per expiry, the
// nearest expiry's smile and its skew (OTM put IV minus OTM call IV within
// the scan band).
func BuildSurface(symbol string, spot float64, chains []*model.OptionChain, now time.Time) Surface {
	s := Surface{Symbol: symbol, UnderlyingPrice: spot, TermStructure: []TermPoint{}, Smile: []SmilePoint{}}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Expiration.Before(chains[j].Expiration) })

	for _, ch := range chains {
		c, cok := atmIV(ch.Calls, spot)
		p, pok := atmIV(ch.Puts, spot)
		tp := TermPoint{
			Expiration:   ch.Expiration.Format("2006-01-02"),
			DaysToExpiry: days(ch.Expiration, now),
			CallATMIV:    ptr(c, cok),
			PutATMIV:     ptr(p, pok),
		}
		switch {
		case cok && pok:
			tp.ATMIV = ptr((c+p)/2, true)
		case cok:
			tp.ATMIV = ptr(c, true)
		case pok:
			tp.ATMIV = ptr(p, true)
		}
		s.TermStructure = append(s.TermStructure, tp)
	}
	if len(chains) == 0 {
		return s
	}

	near := chains[0]
	s.ATMIV = s.TermStructure[0].ATMIV
	lo, hi := spot*(1-2*ScanBand), spot*(1+2*ScanBand)
	otmPut, pok := avgIV(near.Puts, func(c model.OptionContract) bool { return c.Strike < spot && c.Strike >= lo })
	otmCall, cok := avgIV(near.Calls, func(c model.OptionContract) bool { return c.Strike > spot && c.Strike <= hi })
	if pok && cok {
		s.Skew = ptr(otmPut-otmCall, true)
	}

	byStrike := make(map[float64]*SmilePoint)
	add := func(cs []model.OptionContract, put bool) {
		for _, c := range cs {
			if c.ImpliedVolatility <= 0 {
				continue
			}
			sp := byStrike[c.Strike]
			if sp == nil {
				sp = &SmilePoint{Strike: c.Strike}
				byStrike[c.Strike] = sp
			}
			iv := c.ImpliedVolatility
			if put {
				sp.PutIV = &iv
			} else {
				sp.CallIV = &iv
			}
		}
	}
	add(near.Calls, false)
	add(near.Puts, true)
	for _, sp := range byStrike {
		s.Smile = append(s.Smile, *sp)
	}
	sort.Slice(s.Smile, func(i, j int) bool { return s.Smile[i].Strike < s.Smile[j].Strike })
	return s
}

// HistoricalIV is not a true IV history: it ranks the current ATM IV against
// the ATM IVs of the currently listed expirations.
type HistoricalIV struct {
	Symbol        string    `json:"symbol"`
	CurrentIV     *float64  `json:"currentIV"`
	IVRank        *float64  `json:"ivRank"`
	IVPercentile  *float64  `json:"ivPercentile"`
	High          *float64  `json:"high"`
	Low           *float64  `json:"low"`
	Series        []float64 `json:"series"`
	Approximation bool      `json:"approximation"`
	Note          string    `json:"note"`
}

func BuildHistoricalIV(symbol string, surface Surface) HistoricalIV {
	h := HistoricalIV{
		Symbol:        symbol,
		Series:        []float64{},
		Approximation: true,
		Note:          "derived from ATM implied volatility across current expirations, not from historical IV data",
	}
	for _, tp := range surface.TermStructure {
		if tp.ATMIV != nil {
			h.Series = append(h.Series, *tp.ATMIV)
		}
	}
	if len(h.Series) == 0 {
		return h
	}
	cur := h.Series[0]
	lo, hi := cur, cur
	below := 0
	for _, v := range h.Series {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		if v <= cur {
			below++
		}
	}
	rank := 50.0
	if hi > lo {
		rank = (cur - lo) / (hi - lo) * 100
	}
	pct := float64(below) / float64(len(h.Series)) * 100
	h.CurrentIV, h.High, h.Low = &cur, &hi, &lo
	h.IVRank, h.IVPercentile = &rank, &pct
	return h
}

// Unusual activity thresholds.
const (
	UnusualVolOIRatio = 2.0
	UnusualMinVolume  = 100
)

type Unusual struct {
	Symbol          string  `json:"symbol"`
	UnderlyingPrice float64 `json:"underlyingPrice"`
	model.OptionContract
	VolumeOIRatio float64 `json:"volumeOIRatio"`
}

// FindUnusual returns contracts whose volume is at least twice the open
// interest and at least 100 contracts, highest ratio first. Contracts with no
// open interest are skipped.
func FindUnusual(chain *model.OptionChain) []Unusual {
	var out []Unusual
	scan := func(cs []model.OptionContract) {
		for _, c := range cs {
			if c.OpenInterest <= 0 || c.Volume < UnusualMinVolume {
				continue
			}
			r := float64(c.Volume) / float64(c.OpenInterest)
			if r < UnusualVolOIRatio {
				continue
			}
			c.Moneyness = Classify(c.Kind, chain.UnderlyingPrice, c.Strike, ScanBand)
			out = append(out, Unusual{Symbol: chain.Symbol, UnderlyingPrice: chain.UnderlyingPrice, OptionContract: c, VolumeOIRatio: r})
		}
	}
	scan(chain.Calls)
	scan(chain.Puts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].VolumeOIRatio > out[j].VolumeOIRatio })
	return out
}

// Criteria filters the screener; zero values disable a filter.
type Criteria struct {
	Kind            model.OptionKind `json:"type,omitempty"`
	Moneyness       model.Moneyness  `json:"moneyness,omitempty"`
	MinVolume       int64            `json:"minVolume,omitempty"`
	MinOpenInterest int64            `json:"minOpenInterest,omitempty"`
	MinIV           float64          `json:"minIV,omitempty"`
	MaxIV           float64          `json:"maxIV,omitempty"`
	MinDelta        float64          `json:"minDelta,omitempty"`
	MaxDelta        float64          `json:"maxDelta,omitempty"`
	MaxDays         int              `json:"maxDaysToExpiry,omitempty"`
	Limit           int              `json:"limit,omitempty"`
}

type ScreenHit struct {
	Symbol          string  `json:"symbol"`
	UnderlyingPrice float64 `json:"underlyingPrice"`
	DaysToExpiry    int     `json:"daysToExpiry"`
	model.OptionContract
}

// Screen applies the criteria to one chain. Delta filters compare |delta|.
func Screen(chain *model.OptionChain, cr Criteria, now time.Time) []ScreenHit {
	var out []ScreenHit
	spot := chain.UnderlyingPrice
	scan := func(cs []model.OptionContract) {
		for _, c := range cs {
			if cr.Kind != "" && c.Kind != cr.Kind {
				continue
			}
			if c.Volume < cr.MinVolume || c.OpenInterest < cr.MinOpenInterest {
				continue
			}
			if (cr.MinIV > 0 && c.ImpliedVolatility < cr.MinIV) || (cr.MaxIV > 0 && c.ImpliedVolatility > cr.MaxIV) {
				continue
			}
			d := days(c.Expiration, now)
			if cr.MaxDays > 0 && d > cr.MaxDays {
				continue
			}
			c.Moneyness = Classify(c.Kind, spot, c.Strike, ScanBand)
			if cr.Moneyness != "" && c.Moneyness != cr.Moneyness {
				continue
			}
			g := Greeks(c.Kind, spot, c.Strike, c.ImpliedVolatility, TimeToExpiry(c.Expiration, now), RiskFreeRate)
			ad := math.Abs(g.Delta)
			if (cr.MinDelta > 0 && ad < cr.MinDelta) || (cr.MaxDelta > 0 && ad > cr.MaxDelta) {
				continue
			}
			c.Greeks = &g
			out = append(out, ScreenHit{Symbol: chain.Symbol, UnderlyingPrice: spot, DaysToExpiry: d, OptionContract: c})
		}
	}
	scan(chain.Calls)
	scan(chain.Puts)
	return out
}
