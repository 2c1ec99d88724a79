// Package lattice holds search lattices and the algorithms that turn them
// into word-level posterior lattices.
package lattice

import (
	"math"

	"github.com/ieee0824/livedecode-go/fst"
)

// Weight is a pair of graph and acoustic costs. It behaves as the tropical
// semiring on Graph+Acoustic, with ties broken by the graph cost.
type Weight struct {
	Graph    float64
	Acoustic float64
}

func (w Weight) Plus(o Weight) Weight {
	if Less(o, w) {
		return o
	}
	return w
}

func (w Weight) Times(o Weight) Weight {
	return Weight{Graph: w.Graph + o.Graph, Acoustic: w.Acoustic + o.Acoustic}
}

func (Weight) Zero() Weight { return Weight{Graph: math.Inf(1), Acoustic: math.Inf(1)} }

func (Weight) One() Weight { return Weight{} }

func (w Weight) IsZero() bool { return math.IsInf(w.Graph, 1) || math.IsInf(w.Acoustic, 1) }

func (w Weight) Cost() float64 { return w.Graph + w.Acoustic }

// Divide removes o from w: the result r satisfies r.Times(o) == w.
func (w Weight) Divide(o Weight) Weight {
	return Weight{Graph: w.Graph - o.Graph, Acoustic: w.Acoustic - o.Acoustic}
}

// Less reports whether a is a better (lower cost) weight than b.
func Less(a, b Weight) bool {
	ca, cb := a.Cost(), b.Cost()
	if ca != cb {
		return ca < cb
	}
	return a.Graph < b.Graph
}

// CompactWeight is a Weight together with the transition-id sequence
// consumed along the arc.
type CompactWeight struct {
	W         Weight
	Alignment []int
}

func (w CompactWeight) Plus(o CompactWeight) CompactWeight {
	if Less(o.W, w.W) {
		return o
	}
	return w
}

func (w CompactWeight) Times(o CompactWeight) CompactWeight {
	align := make([]int, 0, len(w.Alignment)+len(o.Alignment))
	align = append(align, w.Alignment...)
	align = append(align, o.Alignment...)
	return CompactWeight{W: w.W.Times(o.W), Alignment: align}
}

func (CompactWeight) Zero() CompactWeight { return CompactWeight{W: Weight{}.Zero()} }

func (CompactWeight) One() CompactWeight { return CompactWeight{} }

func (w CompactWeight) IsZero() bool { return w.W.IsZero() }

func (w CompactWeight) Cost() float64 { return w.W.Cost() }

// Lattice is a raw search lattice: input labels are transition ids, output
// labels are words.
type Lattice = fst.Fst[Weight]

// CompactLattice is a word acceptor whose weights carry alignments.
type CompactLattice = fst.Fst[CompactWeight]

// NewLattice returns an empty raw lattice.
func NewLattice() *Lattice { return fst.New[Weight]() }

// NewCompactLattice returns an empty compact lattice.
func NewCompactLattice() *CompactLattice { return fst.New[CompactWeight]() }

// RemoveAlignments drops the transition-id sequences from clat in place.
func RemoveAlignments(clat *CompactLattice) {
	for s := 0; s < clat.NumStates(); s++ {
		arcs := clat.Arcs(s)
		for i := range arcs {
			arcs[i].Weight.Alignment = nil
		}
		if clat.IsFinal(s) {
			clat.SetFinal(s, CompactWeight{W: clat.Final(s).W})
		}
	}
}

// ToLog converts clat to the log semiring, using Graph+Acoustic as the cost.
func ToLog(clat *CompactLattice) *fst.LogFst {
	return fst.Map(clat, func(w CompactWeight) fst.LogWeight {
		return fst.LogWeight(w.W.Cost())
	})
}
