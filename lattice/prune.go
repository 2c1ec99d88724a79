package lattice

import (
	"math"

	"github.com/ieee0824/livedecode-go/fst"
)

// Prune removes arcs and states of an acyclic lattice that lie on no path
// within beam of the best path. States are renumbered in topological order.
func Prune(lat *Lattice, beam float64) error {
	if lat.Start() == fst.NoState {
		return nil
	}
	if err := fst.TopSort(lat); err != nil {
		return err
	}
	n := lat.NumStates()
	fwd := make([]float64, n)
	bwd := make([]float64, n)
	for s := range fwd {
		fwd[s] = math.Inf(1)
		bwd[s] = math.Inf(1)
	}
	fwd[lat.Start()] = 0
	for s := 0; s < n; s++ {
		if math.IsInf(fwd[s], 1) {
			continue
		}
		for _, a := range lat.Arcs(s) {
			if c := fwd[s] + a.Weight.Cost(); c < fwd[a.NextState] {
				fwd[a.NextState] = c
			}
		}
	}
	for s := n - 1; s >= 0; s-- {
		best := lat.Final(s).Cost()
		for _, a := range lat.Arcs(s) {
			if c := a.Weight.Cost() + bwd[a.NextState]; c < best {
				best = c
			}
		}
		bwd[s] = best
	}
	best := bwd[lat.Start()]
	if math.IsInf(best, 1) {
		fst.Connect(lat)
		return nil
	}
	cutoff := best + beam
	var zero Weight
	for s := 0; s < n; s++ {
		if fwd[s]+bwd[s] > cutoff {
			lat.SetArcs(s, nil)
			lat.SetFinal(s, zero.Zero())
			continue
		}
		arcs := lat.Arcs(s)
		kept := arcs[:0]
		for _, a := range arcs {
			if fwd[s]+a.Weight.Cost()+bwd[a.NextState] <= cutoff {
				kept = append(kept, a)
			}
		}
		lat.SetArcs(s, kept)
		if lat.IsFinal(s) && fwd[s]+lat.Final(s).Cost() > cutoff {
			lat.SetFinal(s, zero.Zero())
		}
	}
	fst.Connect(lat)
	return nil
}
