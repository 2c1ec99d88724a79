package fst

import (
	"math"

	"github.com/ieee0824/livedecode-go/internal/mathutil"
)

// TropicalWeight is a cost in the (min, +) semiring.
type TropicalWeight float64

func (w TropicalWeight) Plus(o TropicalWeight) TropicalWeight {
	if o < w {
		return o
	}
	return w
}

func (w TropicalWeight) Times(o TropicalWeight) TropicalWeight { return w + o }

func (TropicalWeight) Zero() TropicalWeight { return TropicalWeight(math.Inf(1)) }

func (TropicalWeight) One() TropicalWeight { return 0 }

func (w TropicalWeight) IsZero() bool { return math.IsInf(float64(w), 1) }

func (w TropicalWeight) Cost() float64 { return float64(w) }

// LogWeight is a negated log probability. Plus is -log(exp(-a) + exp(-b)).
type LogWeight float64

func (w LogWeight) Plus(o LogWeight) LogWeight {
	return LogWeight(-mathutil.LogAdd(-float64(w), -float64(o)))
}

func (w LogWeight) Times(o LogWeight) LogWeight { return w + o }

func (LogWeight) Zero() LogWeight { return LogWeight(math.Inf(1)) }

func (LogWeight) One() LogWeight { return 0 }

func (w LogWeight) IsZero() bool { return math.IsInf(float64(w), 1) }

func (w LogWeight) Cost() float64 { return float64(w) }
